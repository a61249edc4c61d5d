package services

import (
	"context"
	"errors"
	"fmt"

	"school-copilot/internal/database"
	"school-copilot/models"
)

// Principal is the authenticated caller
type Principal struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller is an administrator
func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

// PermissionService decides what a caller may do with classes and
// documents. Admins may do everything. Teachers manage their own classes,
// the documents they uploaded and the documents assigned to their classes.
// Students only read through the classes they are enabled in.
type PermissionService struct {
	store database.Store
}

// NewPermissionService creates a permission service on top of store
func NewPermissionService(store database.Store) *PermissionService {
	return &PermissionService{store: store}
}

// CanManageClass returns nil when p may change class classID
func (s *PermissionService) CanManageClass(ctx context.Context, p Principal, classID string) error {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return err
	}
	switch p.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if class.TeacherID == p.UserID {
			return nil
		}
		return fmt.Errorf("%w: class belongs to another teacher", ErrForbidden)
	default:
		return fmt.Errorf("%w: students cannot manage classes", ErrForbidden)
	}
}

// CanManageDocument returns nil when p may assign, index or remove the
// document
func (s *PermissionService) CanManageDocument(ctx context.Context, p Principal, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	switch p.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if doc.OwnerID == p.UserID {
			return nil
		}
		ok, err := s.teachesAnyOf(ctx, p.UserID, documentID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		return fmt.Errorf("%w: document not assigned to your classes", ErrForbidden)
	default:
		return fmt.Errorf("%w: students cannot manage documents", ErrForbidden)
	}
}

// CanViewDocument returns nil when p may read the document. Students need
// an enabled access grant to a class the document is assigned to.
func (s *PermissionService) CanViewDocument(ctx context.Context, p Principal, documentID string) error {
	if p.Role != models.RoleStudent {
		return s.CanManageDocument(ctx, p, documentID)
	}

	classIDs, err := s.store.ListDocumentClassIDs(ctx, documentID)
	if err != nil {
		return err
	}
	for _, classID := range classIDs {
		access, err := s.store.GetStudentAccess(ctx, p.UserID, classID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if access.Enabled {
			return nil
		}
	}
	return fmt.Errorf("%w: document not available in your classes", ErrForbidden)
}

// CanViewAudit returns nil when p may read isolation audits and query logs
// of the class
func (s *PermissionService) CanViewAudit(ctx context.Context, p Principal, classID string) error {
	if p.Role == models.RoleStudent {
		return fmt.Errorf("%w: students cannot access audit logs", ErrForbidden)
	}
	return s.CanManageClass(ctx, p, classID)
}

// CanAdminister returns nil for administrators only
func (s *PermissionService) CanAdminister(p Principal) error {
	if p.IsAdmin() {
		return nil
	}
	return fmt.Errorf("%w: admin role required", ErrForbidden)
}

func (s *PermissionService) teachesAnyOf(ctx context.Context, teacherID, documentID string) (bool, error) {
	classIDs, err := s.store.ListDocumentClassIDs(ctx, documentID)
	if err != nil {
		return false, err
	}
	for _, classID := range classIDs {
		class, err := s.store.GetClass(ctx, classID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if class.TeacherID == teacherID {
			return true, nil
		}
	}
	return false, nil
}
