package store

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"busy error", errors.New("SQLITE_BUSY: database is busy"), true},
		{"locked error", errors.New("database is locked (5)"), true},
		{"unrelated error", errors.New("no such table: sessions"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteConflict(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWithWriteRetryRecoversFromConflict(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestWithWriteRetryGivesUp(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil {
		t.Error("Expected error after exhausting retries")
	}
	if attempts != writeRetries {
		t.Errorf("Expected %d attempts, got %d", writeRetries, attempts)
	}
}

func TestWithWriteRetryStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	wantErr := errors.New("no such table")
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
