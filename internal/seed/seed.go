package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/models"

	"gopkg.in/yaml.v3"
)

// UserSeed describes one account. IssueToken asks for an access token to
// be printed for it.
type UserSeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Role       string `yaml:"role"`
	IssueToken bool   `yaml:"issue_token"`
}

// ClassSeed describes a class, its teacher and its enrolled students
type ClassSeed struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Teacher            string   `yaml:"teacher"`
	DailyQuestionLimit int      `yaml:"daily_question_limit"`
	BlockedTerms       []string `yaml:"blocked_terms"`
	Disabled           bool     `yaml:"disabled"`
	Students           []string `yaml:"students"`
}

// Fixture is the root of a seed file
type Fixture struct {
	Users   []UserSeed  `yaml:"users"`
	Classes []ClassSeed `yaml:"classes"`
}

// IssuedToken is an access token minted for a seeded user
type IssuedToken struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Summary counts what Apply created. Existing rows are left untouched.
type Summary struct {
	UsersCreated   int           `json:"users_created"`
	ClassesCreated int           `json:"classes_created"`
	AccessGranted  int           `json:"access_granted"`
	Tokens         []IssuedToken `json:"tokens"`
}

type TokenIssuer interface {
	Issue(userID, role string) (string, time.Time, error)
}

// CollectionCreator gives a new class its empty vector index
type CollectionCreator interface {
	CreateClassCollection(ctx context.Context, classID string) error
}

// Load reads and validates a YAML fixture
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids, roles and that class teachers are staff users of
// the fixture
func (f *Fixture) Validate() error {
	roles := make(map[string]string, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		switch u.Role {
		case models.RoleAdmin, models.RoleTeacher, models.RoleStudent:
		default:
			return fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		if _, dup := roles[u.ID]; dup {
			return fmt.Errorf("user %s: duplicate id", u.ID)
		}
		roles[u.ID] = u.Role
	}

	for i, c := range f.Classes {
		if c.ID == "" {
			return fmt.Errorf("classes[%d]: id is required", i)
		}
		if c.DailyQuestionLimit < 0 {
			return fmt.Errorf("class %s: daily_question_limit cannot be negative", c.ID)
		}
		if role, ok := roles[c.Teacher]; ok && role == models.RoleStudent {
			return fmt.Errorf("class %s: teacher %s is a student", c.ID, c.Teacher)
		}
		for _, s := range c.Students {
			if role, ok := roles[s]; ok && role != models.RoleStudent {
				return fmt.Errorf("class %s: %s is not a student", c.ID, s)
			}
		}
	}
	return nil
}

// Apply creates the fixture's missing users, classes and access rows and
// issues the requested tokens. It is safe to run repeatedly.
func Apply(ctx context.Context, store database.Store, collections CollectionCreator, tokens TokenIssuer, f *Fixture) (*Summary, error) {
	sum := &Summary{Tokens: []IssuedToken{}}
	now := time.Now().UTC()

	for _, u := range f.Users {
		_, err := store.GetUser(ctx, u.ID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			user := &models.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Active: true, CreatedAt: now}
			if err := store.CreateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("create user %s: %w", u.ID, err)
			}
			sum.UsersCreated++
		case err != nil:
			return nil, fmt.Errorf("get user %s: %w", u.ID, err)
		}

		if u.IssueToken {
			token, exp, err := tokens.Issue(u.ID, u.Role)
			if err != nil {
				return nil, fmt.Errorf("issue token for %s: %w", u.ID, err)
			}
			sum.Tokens = append(sum.Tokens, IssuedToken{UserID: u.ID, Role: u.Role, Token: token, ExpiresAt: exp})
		}
	}

	for _, c := range f.Classes {
		_, err := store.GetClass(ctx, c.ID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			limit := c.DailyQuestionLimit
			if limit == 0 {
				limit = models.DefaultDailyQuestionLimit
			}
			class := &models.Class{
				ID:                 c.ID,
				Name:               c.Name,
				TeacherID:          c.Teacher,
				Enabled:            !c.Disabled,
				DailyQuestionLimit: limit,
				BlockedTerms:       c.BlockedTerms,
				CreatedAt:          now,
			}
			if err := store.CreateClass(ctx, class); err != nil {
				return nil, fmt.Errorf("create class %s: %w", c.ID, err)
			}
			if collections != nil {
				if err := collections.CreateClassCollection(ctx, c.ID); err != nil {
					return nil, fmt.Errorf("create collection for %s: %w", c.ID, err)
				}
			}
			sum.ClassesCreated++
		case err != nil:
			return nil, fmt.Errorf("get class %s: %w", c.ID, err)
		}

		for _, studentID := range c.Students {
			_, err := store.GetStudentAccess(ctx, studentID, c.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("get access %s/%s: %w", studentID, c.ID, err)
			}
			access := &models.StudentAccess{StudentID: studentID, ClassID: c.ID, Enabled: true, CreatedAt: now}
			if err := store.UpsertStudentAccess(ctx, access); err != nil {
				return nil, fmt.Errorf("grant access %s/%s: %w", studentID, c.ID, err)
			}
			sum.AccessGranted++
		}
	}

	logger.Info("Seed applied",
		"users_created", sum.UsersCreated,
		"classes_created", sum.ClassesCreated,
		"access_granted", sum.AccessGranted,
		"tokens", len(sum.Tokens),
	)
	return sum, nil
}
