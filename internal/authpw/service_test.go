package authpw

import (
	"context"
	"errors"
	"testing"

	"github.com/Antarlekhaka/code/internal/store"
)

type mockUserStore struct {
	users  map[string]store.User
	nextID int64
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if user, ok := m.users[username]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (int64, error) {
	if _, ok := m.users[user.Username]; ok {
		return 0, store.ErrDuplicateUser
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.Username] = user
	return user.ID, nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	id, err := svc.SignUp(ctx, SignUpRequest{
		Username: "valmiki",
		Email:    "valmiki@example.com",
		Password: "tapasvadhyaya",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero user id")
	}

	user, err := svc.SignIn(ctx, "valmiki", "tapasvadhyaya")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.Username != "valmiki" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Username: "valmiki",
		Email:    "valmiki@example.com",
		Password: "tapasvadhyaya",
	}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, "valmiki", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInRejectsInactiveUser(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Username: "valmiki",
		Email:    "valmiki@example.com",
		Password: "tapasvadhyaya",
	}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	user := mock.users["valmiki"]
	user.IsActive = false
	mock.users["valmiki"] = user

	if _, err := svc.SignIn(ctx, "valmiki", "tapasvadhyaya"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Username: "valmiki",
		Email:    "valmiki@example.com",
		Password: "short",
	}); err == nil {
		t.Fatal("expected error for short password")
	}
}
