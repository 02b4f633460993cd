package tenant

import (
	"context"
	"fmt"
	"testing"

	"backend/internal/common"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Tenant{}, &Department{}, &User{}))
	return db
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	db := openTestDB(t)
	svc := NewDirectoryService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&Tenant{ID: "t-1", Name: "Acme", Slug: "acme", Status: "active"}).Error)

	user, err := svc.CreateUser(ctx, "t-1", CreateUserParams{
		Email:    "alice@acme.io",
		Username: "alice",
		Password: "s3cret-pass",
		FullName: "Alice Zhang",
	})
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, UserStatusActive, user.Status)

	got, err := svc.Authenticate(ctx, "acme", "alice@acme.io", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "acme", "alice@acme.io", "wrong-pass")
	require.Error(t, err)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	svc := NewDirectoryService(db)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "t-1", CreateUserParams{Email: "a@b.io", Username: "a", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, "t-1", CreateUserParams{Email: "a@b.io", Username: "a2", Password: "password1"})
	require.Error(t, err)

	// 不同租户允许同邮箱
	_, err = svc.CreateUser(ctx, "t-2", CreateUserParams{Email: "a@b.io", Username: "a", Password: "password1"})
	require.NoError(t, err)
}

func TestListActiveUsersByDepartment(t *testing.T) {
	db := openTestDB(t)
	svc := NewDirectoryService(db)
	ctx := context.Background()

	dept, err := svc.CreateDepartment(ctx, "t-1", "法务部", "legal", "")
	require.NoError(t, err)

	u1, err := svc.CreateUser(ctx, "t-1", CreateUserParams{Email: "u1@x.io", Username: "u1", Password: "password1", DepartmentID: dept.ID})
	require.NoError(t, err)
	u2, err := svc.CreateUser(ctx, "t-1", CreateUserParams{Email: "u2@x.io", Username: "u2", Password: "password1", DepartmentID: dept.ID})
	require.NoError(t, err)

	// 禁用的用户不应出现在结果中
	require.NoError(t, svc.DisableUser(ctx, "t-1", u2.ID))

	users, err := svc.ListActiveUsersByDepartment(ctx, "t-1", dept.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, u1.ID, users[0].ID)
}

func TestListActiveUsersByDepartmentNotFound(t *testing.T) {
	db := openTestDB(t)
	svc := NewDirectoryService(db)

	_, err := svc.ListActiveUsersByDepartment(context.Background(), "t-1", "missing-dept")
	require.Error(t, err)

	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeDepartmentNotFound, bizErr.Code)
}

func TestGetUsersByIDsSkipsMissing(t *testing.T) {
	db := openTestDB(t)
	svc := NewDirectoryService(db)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "t-1", CreateUserParams{Email: "u@x.io", Username: "u", Password: "password1"})
	require.NoError(t, err)

	users, err := svc.GetUsersByIDs(ctx, "t-1", []string{u.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, users, 1)
}
