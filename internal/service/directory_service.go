package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

type teacherListing interface {
	teacherDirectory
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
}

type subjectListing interface {
	List(ctx context.Context) ([]models.Subject, error)
}

// DirectoryService exposes the read-only teacher and subject catalogue.
type DirectoryService struct {
	teachers teacherListing
	subjects subjectListing
	logger   *zap.Logger
}

// NewDirectoryService builds the directory service.
func NewDirectoryService(teachers teacherListing, subjects subjectListing, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{teachers: teachers, subjects: subjects, logger: logger}
}

// ListTeachers returns teachers for discovery. Only active teachers are listed unless the filter says otherwise.
func (s *DirectoryService) ListTeachers(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	if filter.Active == nil {
		active := true
		filter.Active = &active
	}
	teachers, total, err := s.teachers.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return teachers, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// GetTeacher returns a teacher by id.
func (s *DirectoryService) GetTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// ListSubjects returns every bookable subject.
func (s *DirectoryService) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}
