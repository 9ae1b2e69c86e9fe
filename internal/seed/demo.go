// Package seed provides demo data seeding for the entity store.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matthewbaird/entitykit/internal/store"
	"github.com/matthewbaird/entitykit/internal/types"
)

// Demo creates a small coaching catalogue (users in every role, courses with
// lessons, enrollments, payments and coach posts) through the store, so every
// record passes the same validation as API writes. If users already exist
// (idempotent check), it skips seeding.
func Demo(ctx context.Context, st *store.Store, log *slog.Logger) error {
	count, err := st.Count(ctx, "Users")
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if count > 0 {
		log.Info("demo data already seeded, skipping", "users", count)
		return nil
	}

	s := seeder{ctx: ctx, st: st}

	// ── People ───────────────────────────────────────────────────────
	admin := s.create("Users", map[string]any{
		"first_name": "Alex",
		"last_name":  "Morgan",
		"email":      "alex@example.com",
		"role":       "admin",
	})
	coach := s.create("Users", map[string]any{
		"first_name": "Sam",
		"last_name":  "Rivera",
		"email":      "sam@example.com",
		"role":       "coach",
		"bio":        "Strength coach. Ten years of kettlebell sport.",
		"avatar":     "https://images.example.com/avatars/sam.jpg",
		"interests":  "strength,mobility",
	})
	student := s.create("Users", map[string]any{
		"first_name": "Jordan",
		"last_name":  "Lee",
		"email":      "jordan@example.com",
		"interests":  []string{"nutrition", "mindset"},
		"birth_date": "1994-07-12",
	})

	// ── Catalogue ────────────────────────────────────────────────────
	strength := s.create("Categories", map[string]any{"name": "Strength", "slug": "strength"})
	mobility := s.create("Categories", map[string]any{"name": "Mobility", "slug": "mobility"})

	kettlebells := s.create("Courses", map[string]any{
		"title":          "Kettlebell Foundations",
		"slug":           "kettlebell-foundations",
		"summary":        "Swing, clean, press and snatch with safe progressions.",
		"cover":          "https://images.example.com/courses/kettlebells.jpg",
		"author":         s.id(coach),
		"categories":     []string{s.id(strength), s.id(mobility)},
		"level":          "beginner",
		"price":          49.0,
		"duration_weeks": 6,
		"published":      true,
		"published_at":   "2024-01-15T09:00:00Z",
	})
	s.create("Lessons", map[string]any{
		"title":    "The hip hinge",
		"course":   s.id(kettlebells),
		"position": 1,
		"video":    "https://media.example.com/lessons/hinge.mp4",
		"resources": map[string]any{
			"worksheet": "https://media.example.com/lessons/hinge.pdf",
			"minutes":   12,
		},
	})
	s.create("Lessons", map[string]any{
		"title":    "Two-hand swing",
		"course":   s.id(kettlebells),
		"position": 2,
		"audio":    "https://media.example.com/lessons/swing-cues.mp3",
	})

	// ── Enrollment and payment ───────────────────────────────────────
	s.create("Enrollments", map[string]any{
		"student":    s.id(student),
		"course":     s.id(kettlebells),
		"started_on": "2024-02-01",
	})
	s.create("Payments", map[string]any{
		"author": s.id(student),
		"course": s.id(kettlebells),
		"amount": 49.0,
		"status": "paid",
		"receipt": map[string]any{
			"processor": "demo",
			"reference": "rcpt_0001",
		},
	})

	// ── Community ────────────────────────────────────────────────────
	post := s.create("CoachContent", map[string]any{
		"title":        "Three swing mistakes",
		"author":       s.id(coach),
		"body":         "Squatting the swing, lifting with the arms, and soft lockout.",
		"tags":         "workout,tip",
		"courses":      []string{s.id(kettlebells)},
		"published_at": "2024-02-10T18:00:00Z",
	})
	s.create("Comments", map[string]any{
		"author":  s.id(student),
		"content": s.id(post),
		"body":    "The lockout cue fixed my back pain.",
	})
	s.create("Events", map[string]any{
		"name":      "Saturday swing clinic",
		"host":      s.id(coach),
		"starts_at": "2024-03-02T10:00:00Z",
		"location":  "Studio B",
		"capacity":  12,
		"attendees": []string{s.id(student), s.id(admin)},
	})
	s.create("Reviews", map[string]any{
		"author": s.id(student),
		"course": s.id(kettlebells),
		"rating": "5",
		"body":   "Clear progressions.",
	})

	if s.err != nil {
		return s.err
	}
	log.Info("demo data seeded", "records", s.created)
	return nil
}

// seeder stops at the first failure and turns every later call into a no-op,
// so Demo reads as a straight list of records.
type seeder struct {
	ctx     context.Context
	st      *store.Store
	err     error
	created int
}

func (s *seeder) create(t types.EntityType, values map[string]any) *types.Instance {
	if s.err != nil {
		return nil
	}
	inst, err := s.st.Create(s.ctx, t, values)
	if err != nil {
		s.err = fmt.Errorf("creating %s: %w", t, err)
		return nil
	}
	s.created++
	return inst
}

func (s *seeder) id(inst *types.Instance) string {
	if inst == nil {
		return ""
	}
	return inst.ID
}
