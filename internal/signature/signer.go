package signature

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"backend/internal/logger"

	"github.com/dslipak/pdf"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignerIdentity 参与签章的签名人身份
type SignerIdentity struct {
	UserID string
	Name   string
	Email  string
}

// SignatureDescriptor 单个签名人的签章产物描述
type SignatureDescriptor struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Hash             string    `json:"hash"`
	VerificationCode string    `json:"verificationCode"`
	DigitalTimestamp time.Time `json:"digitalTimestamp"`
}

// Signer 签章原语
// 将全部签名人身份盖入一个输出产物，并返回逐人签名描述
type Signer interface {
	Stamp(source []byte, signers []SignerIdentity) (artifact []byte, descriptors []SignatureDescriptor, err error)
}

// PDFStamper 基于追加签章块的 PDF 签章实现
// 原文内容保持字节不变，签章清单以增量块附加在文件尾部
type PDFStamper struct{}

// NewPDFStamper 创建 PDF 签章器
func NewPDFStamper() *PDFStamper {
	return &PDFStamper{}
}

// Stamp 生成签章产物
func (p *PDFStamper) Stamp(source []byte, signers []SignerIdentity) ([]byte, []SignatureDescriptor, error) {
	if len(source) == 0 {
		return nil, nil, fmt.Errorf("源文档为空")
	}
	if len(signers) == 0 {
		return nil, nil, fmt.Errorf("没有签名人")
	}

	// 解析仅用于校验结构，非 PDF 内容降级为原样附加
	pageCount := p.inspect(source)

	docSum := sha256.Sum256(source)
	docHash := hex.EncodeToString(docSum[:])
	now := time.Now().UTC()

	descriptors := make([]SignatureDescriptor, 0, len(signers))
	var manifest strings.Builder
	manifest.WriteString("\n%%TrackDoc-Signature-Block\n")
	fmt.Fprintf(&manifest, "%% document-hash: %s\n", docHash)
	fmt.Fprintf(&manifest, "%% stamped-at: %s\n", now.Format(time.RFC3339))

	for _, signer := range signers {
		code := NewVerificationCode()
		sigSum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%d", docHash, signer.UserID, code, now.UnixNano()))
		desc := SignatureDescriptor{
			ID:               uuid.New().String(),
			UserID:           signer.UserID,
			Name:             signer.Name,
			Email:            signer.Email,
			Hash:             hex.EncodeToString(sigSum[:]),
			VerificationCode: code,
			DigitalTimestamp: now,
		}
		descriptors = append(descriptors, desc)
		fmt.Fprintf(&manifest, "%% signer: %s <%s> code=%s hash=%s\n",
			signer.Name, signer.Email, desc.VerificationCode, desc.Hash)
	}
	manifest.WriteString("%%TrackDoc-Signature-Block-End\n")

	artifact := make([]byte, 0, len(source)+manifest.Len())
	artifact = append(artifact, source...)
	artifact = append(artifact, manifest.String()...)

	logger.Debug("签章产物生成",
		zap.Int("signers", len(signers)),
		zap.Int("pages", pageCount),
		zap.Int("artifactSize", len(artifact)),
	)
	return artifact, descriptors, nil
}

// inspect 尝试解析 PDF 获取页数，失败返回 0
func (p *PDFStamper) inspect(source []byte) int {
	defer func() {
		// dslipak/pdf 对畸形文件可能 panic
		_ = recover()
	}()

	reader, err := pdf.NewReader(bytes.NewReader(source), int64(len(source)))
	if err != nil {
		logger.Debug("PDF 解析失败，按原样附加签章块", zap.Error(err))
		return 0
	}
	return reader.NumPage()
}

// NewVerificationCode 生成公开校验码
func NewVerificationCode() string {
	return "TD-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}
