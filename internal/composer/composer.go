package composer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialsapp/socials-service/internal/media"
	"github.com/socialsapp/socials-service/internal/model"
	"github.com/socialsapp/socials-service/internal/store"
)

// Field-specific validation errors, reported in a fixed order: name, date,
// location, description, image. The messages are user-facing.
var (
	ErrMissingName        = errors.New("Please enter an event name.")
	ErrMissingDate        = errors.New("Please choose an event date.")
	ErrMissingLocation    = errors.New("Please enter an event location.")
	ErrMissingDescription = errors.New("Please enter an event description.")
	ErrMissingImage       = errors.New("Please choose an event image.")
)

// Draft is new-event input before validation. Date is epoch millis.
type Draft struct {
	Name        string
	Date        int64
	Location    string
	Description string
	Image       []byte
	ImageType   string
}

// Validate stops at the first missing field.
func (d Draft) Validate() error {
	switch {
	case d.Name == "":
		return ErrMissingName
	case d.Date == 0:
		return ErrMissingDate
	case d.Location == "":
		return ErrMissingLocation
	case d.Description == "":
		return ErrMissingDescription
	case len(d.Image) == 0:
		return ErrMissingImage
	}
	return nil
}

// Composer validates and persists new events. The record is written only
// after the media upload returns a locator, so a failed upload never leaves
// a partial record behind.
type Composer struct {
	store store.EventStore
	media media.Store
	log   *zap.SugaredLogger
}

func New(st store.EventStore, m media.Store, logger *zap.SugaredLogger) *Composer {
	return &Composer{store: st, media: m, log: logger}
}

// Submit persists a valid draft on behalf of identity and returns the stored
// record.
func (c *Composer) Submit(ctx context.Context, identity string, d Draft) (*model.Social, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	id := c.store.CreateID()
	contentType := d.ImageType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	locator, err := c.media.Upload(ctx, id+".jpg", d.Image, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload event image: %w", err)
	}
	rec := &model.Social{
		ID:               id,
		EventName:        d.Name,
		EventDate:        d.Date,
		EventLocation:    d.Location,
		EventDescription: d.Description,
		EventImage:       locator,
		UserID:           identity,
		Likes:            model.StringSet{},
	}
	if err := c.store.Set(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}
	c.log.Infof("event %s created by %s", id, identity)
	return rec, nil
}
