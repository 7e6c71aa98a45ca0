package directory

import (
	"github.com/roumaissazd/ApplicationSummerIntership/internal/models"
	"gorm.io/gorm"
)

// The user directory is a presentation-only collaborator: it resolves user ids
// to display names and avatars for API responses. It is never consulted for
// authorization.

type Profile struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type Resolver interface {
	Resolve(ids []uint) (map[uint]Profile, error)
}

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve batch-loads profiles for the given ids. Unknown ids are simply
// absent from the result; callers fall back to an empty name.
func (s *Service) Resolve(ids []uint) (map[uint]Profile, error) {
	out := make(map[uint]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.Select("id", "username", "display_name", "avatar_url").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		out[u.ID] = Profile{ID: u.ID, Username: u.Username, DisplayName: name, AvatarURL: u.AvatarURL}
	}
	return out, nil
}
