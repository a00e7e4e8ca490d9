package events

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// MaxCommentLength bounds a comment body, in characters.
const MaxCommentLength = 2000

// AddComment attaches a note from userID to an instance.
func (s *Service) AddComment(ctx context.Context, instanceID int64, userID, body string) (model.Comment, error) {
	userID = strings.TrimSpace(userID)
	body = strings.TrimSpace(body)
	switch {
	case userID == "":
		return model.Comment{}, fmt.Errorf("%w: user id is required", ErrValidation)
	case body == "":
		return model.Comment{}, fmt.Errorf("%w: comment body is required", ErrValidation)
	case utf8.RuneCountInString(body) > MaxCommentLength:
		return model.Comment{}, fmt.Errorf("%w: comment is longer than %d characters", ErrValidation, MaxCommentLength)
	}
	if _, err := s.store.GetInstance(ctx, instanceID); err != nil {
		return model.Comment{}, err
	}

	c := model.Comment{
		InstanceID: instanceID,
		UserID:     userID,
		Body:       body,
		Created:    s.now(),
	}
	if err := s.store.AddComment(ctx, &c); err != nil {
		return model.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	appLog.Debug("comment added", "instance_id", instanceID, "user_id", userID, "comment_id", c.ID)
	return c, nil
}

// ListComments returns an instance's comments, oldest first.
func (s *Service) ListComments(ctx context.Context, instanceID int64) ([]model.Comment, error) {
	if _, err := s.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, instanceID)
}
