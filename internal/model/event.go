package model

import "time"

// Event is a catalog entry describing one bookable event.  The
// engine only needs the identity and the initial seat list; title,
// date and image are passed through to clients untouched.
//
// Fields:
//  ID        – primary key identifier.
//  Title     – display title.
//  Date      – event date as provided by the admin (free-form).
//  ImageURL  – optional poster image.
//  CreatedAt – creation timestamp.
type Event struct {
    ID        uint64    `json:"id"`         // events.id
    Title     string    `json:"title"`      // events.title
    Date      string    `json:"date"`       // events.event_date
    ImageURL  string    `json:"image_url"`  // events.image_url
    CreatedAt time.Time `json:"created_at"` // events.created_at
}
