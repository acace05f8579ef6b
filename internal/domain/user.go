package domain

import "context"

// Credentials holds the bearer token pair
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty reports whether no token is present at all
func (c Credentials) Empty() bool {
	return c.Access == "" && c.Refresh == ""
}

// UserLogin represents login credentials
type UserLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// User is the authenticated account as returned by the backend
type User struct {
	ID       any    `json:"id,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// CredentialStore is the process-wide token store. It is initialised on
// startup and cleared on logout or when a refresh fails.
type CredentialStore interface {
	Get(ctx context.Context) (Credentials, error)
	Set(ctx context.Context, creds Credentials) error
	SetAccess(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// RemoteFile is a document managed through the files API
type RemoteFile struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	File       string `json:"file,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}
