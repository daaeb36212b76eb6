// Package export renders stored conversations and interaction logs as CSV
// or JSON for offline analysis.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/store"
)

// transcriptHeaders is one row per message joined with both slots' presence.
var transcriptHeaders = []string{
	"sessionId",
	"archived",
	"messageIndex",
	"sender",
	"timestamp",
	"content",
	"participant1Online",
	"participant1LastSeen",
	"participant1Heartbeat",
	"participant2Online",
	"participant2LastSeen",
	"participant2Heartbeat",
}

// TranscriptOptions filters the transcript export. By default only archived
// sessions are included; the time range applies to message timestamps.
type TranscriptOptions struct {
	IncludeActive bool
	Start         time.Time
	End           time.Time
	Location      *time.Location
}

// WriteTranscriptCSV streams every matching session transcript as CSV.
func WriteTranscriptCSV(ctx context.Context, st store.Store, w io.Writer, opts TranscriptOptions) error {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(transcriptHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	sessions, err := st.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	for _, sess := range sessions {
		if !sess.Archived && !opts.IncludeActive {
			continue
		}

		p1, err := st.GetPresence(ctx, sess.ID, domain.SlotParticipant1)
		if err != nil {
			return fmt.Errorf("read presence for %s: %w", sess.ID, err)
		}
		p2, err := st.GetPresence(ctx, sess.ID, domain.SlotParticipant2)
		if err != nil {
			return fmt.Errorf("read presence for %s: %w", sess.ID, err)
		}

		msgs, err := st.Messages(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("read transcript for %s: %w", sess.ID, err)
		}

		for i, msg := range msgs {
			if !opts.Start.IsZero() && msg.Timestamp.Before(opts.Start) {
				continue
			}
			if !opts.End.IsZero() && msg.Timestamp.After(opts.End) {
				continue
			}
			row := []string{
				sess.ID,
				strconv.FormatBool(sess.Archived),
				strconv.Itoa(i),
				string(msg.Sender),
				formatTime(msg.Timestamp, opts.Location),
				msg.Content,
				presenceOnline(p1),
				presenceLastSeen(p1, opts.Location),
				presenceHeartbeat(p1),
				presenceOnline(p2),
				presenceLastSeen(p2, opts.Location),
				presenceHeartbeat(p2),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// logHeaders summarizes one interaction log per row.
var logHeaders = []string{
	"ID",
	"Session ID",
	"Start Time",
	"End Time",
	"Duration (seconds)",
	"Total Messages",
	"Participant 1 Messages",
	"Participant 2 Messages",
	"System Messages",
	"First Message",
	"Last Message",
}

// WriteLogsCSV writes an interaction-log summary table.
func WriteLogsCSV(w io.Writer, logs []*domain.InteractionLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(logHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, log := range logs {
		endTime := ""
		if log.Finalized() {
			endTime = log.EndTime.UTC().Format(time.RFC3339)
		}
		first, last := "", ""
		if len(log.Messages) > 0 {
			first = log.Messages[0].Content
			last = log.Messages[len(log.Messages)-1].Content
		}
		row := []string{
			log.ID,
			log.SessionID,
			log.StartTime.UTC().Format(time.RFC3339),
			endTime,
			strconv.Itoa(log.Duration),
			strconv.Itoa(log.MessageCount),
			strconv.Itoa(log.Participant1MessageCount),
			strconv.Itoa(log.Participant2MessageCount),
			strconv.Itoa(log.SystemMessageCount),
			first,
			last,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339)
}

func presenceOnline(rec *domain.PresenceRecord) string {
	if rec == nil {
		return ""
	}
	return strconv.FormatBool(rec.Online)
}

func presenceLastSeen(rec *domain.PresenceRecord, loc *time.Location) string {
	if rec == nil || rec.LastSeen.IsZero() {
		return ""
	}
	return formatTime(rec.LastSeen, loc)
}

func presenceHeartbeat(rec *domain.PresenceRecord) string {
	if rec == nil || rec.Heartbeat == 0 {
		return ""
	}
	return strconv.FormatInt(rec.Heartbeat, 10)
}
