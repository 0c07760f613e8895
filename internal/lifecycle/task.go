// Package lifecycle drives time-triggered session transitions: ending
// sessions, persisting scores at section boundaries and archiving ended
// sessions.
//
// Timers are described by plain Task values rather than closures, so the
// full set can be rebuilt from stored classroom and session state after a
// restart.
package lifecycle

import (
	"time"

	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Kind names what a task does when it fires.
type Kind string

const (
	KindEndSession Kind = "end_session"
	KindEndSection Kind = "end_section"
	KindArchive    Kind = "archive"
)

// NightlyArchiveID is the id of the recurring archive sweep.
const NightlyArchiveID = "archive:nightly"

// DefaultArchiveSchedule runs the nightly sweep at 23:59.
const DefaultArchiveSchedule = "59 23 * * *"

// Task is a re-creatable description of one scheduled callback.
type Task struct {
	ID          string
	Kind        Kind
	ClassroomID string
	SessionID   string
	SectionID   string
	Trigger     interfaces.Trigger
}

// EndSessionID is the task id ending sessionID.
func EndSessionID(sessionID string) string {
	return "end-session:" + sessionID
}

// EndSectionID is the task id closing sectionID within sessionID.
func EndSectionID(sessionID, sectionID string) string {
	return "end-section:" + sessionID + ":" + sectionID
}

// ArchiveID is the task id of a classroom's end-of-day archive.
func ArchiveID(classroomID string) string {
	return "archive:" + classroomID
}

// SessionEnd is when a session of c ends: the classroom window plus grace.
func SessionEnd(c *types.Classroom, grace time.Duration) time.Time {
	return c.EndTime().Add(grace)
}

// SectionEnd is when section s of c ends.
func SectionEnd(c *types.Classroom, s types.Section) time.Time {
	return c.StartTime.Add(time.Duration(s.Duration) * time.Minute)
}

// EndOfDay returns 23:59 in loc on the day t falls on in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 0, 0, loc)
}

// Plan returns the tasks a joined session needs: one end-session task, one
// end-section task per section and the classroom's end-of-day archive.
func Plan(c *types.Classroom, sessionID string, grace time.Duration, loc *time.Location) []Task {
	end := SessionEnd(c, grace)

	tasks := make([]Task, 0, len(c.Sections)+2)
	tasks = append(tasks, Task{
		ID:          EndSessionID(sessionID),
		Kind:        KindEndSession,
		ClassroomID: c.ID,
		SessionID:   sessionID,
		Trigger:     interfaces.Trigger{At: end},
	})
	for _, s := range c.Sections {
		tasks = append(tasks, Task{
			ID:          EndSectionID(sessionID, s.ID),
			Kind:        KindEndSection,
			ClassroomID: c.ID,
			SessionID:   sessionID,
			SectionID:   s.ID,
			Trigger:     interfaces.Trigger{At: SectionEnd(c, s)},
		})
	}

	// ARCHITECTURAL DISCOVERY: The archive runs on the day the session ends,
	// so a classroom spanning midnight is archived after its sessions end
	archiveAt := EndOfDay(end, loc)
	if archiveAt.Before(end) {
		archiveAt = end
	}
	tasks = append(tasks, Task{
		ID:          ArchiveID(c.ID),
		Kind:        KindArchive,
		ClassroomID: c.ID,
		Trigger:     interfaces.Trigger{At: archiveAt},
	})
	return tasks
}
