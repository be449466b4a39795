package identity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// UserStore provides user lookup and seeding for authentication.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// AutoMigrate creates or updates the users table.
func (s *UserStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.User{})
}

// Get retrieves a user by ID. Returns nil, nil if no user exists.
func (s *UserStore) Get(userID string) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, "id = ?", userID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &user, nil
}

// GetByUsername retrieves a user by username. Returns nil, nil if no user
// exists.
func (s *UserStore) GetByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, "username = ?", username).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &user, nil
}

// Authenticate verifies the credentials and returns the matching identity.
func (s *UserStore) Authenticate(username, password string) (Identity, error) {
	var user models.User
	err := s.db.First(&user, "username = ?", username).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Identity{}, errs.Permission.New("invalid credentials")
		}
		return Identity{}, errs.Internal.Wrap(err)
	}
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, errs.Permission.New("invalid credentials")
	}
	return Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Create hashes the password and inserts a new user.
func (s *UserStore) Create(username, password, role string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, errs.Validation.New("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return user, nil
}
