package user

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email,max=254"`
	Password  string `json:"password" binding:"required,min=8,max=128,password"`
	FirstName string `json:"firstName" binding:"required,min=1,max=100"`
	LastName  string `json:"lastName" binding:"required,min=1,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is optional on the wire: cookie clients send an empty body.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"omitempty,max=512"`
}

// UpdateProfileRequest is a partial update, nil fields are left untouched.
// IsActive and IsEmailVerified are honoured for admins only.
type UpdateProfileRequest struct {
	FirstName       *string `json:"firstName" binding:"omitempty,min=1,max=100"`
	LastName        *string `json:"lastName" binding:"omitempty,min=1,max=100"`
	Email           *string `json:"email" binding:"omitempty,email,max=254"`
	IsActive        *bool   `json:"isActive"`
	IsEmailVerified *bool   `json:"isEmailVerified"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=128,password,nefield=CurrentPassword"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}
