package web

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/RaspiCam/internal/logic/capture"
	"github.com/cjeanneret/RaspiCam/internal/notify"
	"github.com/cjeanneret/RaspiCam/internal/store"
)

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Broadcast("info", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		select {
		case msg := <-ch:
			var evt StatusEvent
			if err := json.Unmarshal([]byte(msg), &evt); err != nil {
				t.Fatalf("subscriber %d: unmarshal: %v", i, err)
			}
			if evt.Msg != "multi" {
				t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	// Channel should be closed after unsubscribe
	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	// Fill the channel buffer (64 messages)
	for i := 0; i < 64; i++ {
		b.Broadcast("info", "fill")
	}

	// Must not block; the message is dropped
	b.Broadcast("info", "overflow")

	// Drain and count messages
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 64 {
		t.Errorf("expected 64 buffered messages, got %d", count)
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	n, err := w.Write([]byte("  trimmed message  \n"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len("  trimmed message  \n") {
		t.Errorf("n = %d, want %d", n, len("  trimmed message  \n"))
	}

	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Msg != "trimmed message" {
			t.Errorf("msg = %q, want \"trimmed message\"", evt.Msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestBroadcaster_RecordCaptureEvents(t *testing.T) {
	img := store.StoredImage{Name: "raspi-camera-20240309070000.jpg"}
	cases := []struct {
		name      string
		ev        capture.Event
		wantLevel string
		wantIn    string
	}{
		{
			"stored and delivered",
			capture.Event{ID: "a", Trigger: capture.TriggerSensor, Outcome: capture.OutcomeStored, Image: img,
				Notification: notify.Result{Delivered: true, StatusCode: 204}},
			"info", "delivered (204)",
		},
		{
			"notification skipped",
			capture.Event{ID: "b", Trigger: capture.TriggerManual, Outcome: capture.OutcomeStored, Image: img,
				Notification: notify.Result{Skipped: true}},
			"info", "skipped",
		},
		{
			"notification failed",
			capture.Event{ID: "c", Trigger: capture.TriggerSensor, Outcome: capture.OutcomeStored, Image: img,
				Notification: notify.Result{Err: errors.New("timeout")}},
			"warn", "failed: timeout",
		},
		{
			"capture failed",
			capture.Event{ID: "d", Trigger: capture.TriggerSensor, Outcome: capture.OutcomeCaptureFailed,
				Err: &capture.StageError{Stage: capture.StageCapture, Err: errors.New("no frame")}},
			"error", "capture: no frame",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewStatusBroadcaster()
			ch, unsub := b.Subscribe()
			defer unsub()

			if err := b.Record(context.Background(), tc.ev); err != nil {
				t.Fatalf("Record: %v", err)
			}
			select {
			case msg := <-ch:
				var evt StatusEvent
				if err := json.Unmarshal([]byte(msg), &evt); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if evt.Level != tc.wantLevel {
					t.Errorf("level = %q, want %q", evt.Level, tc.wantLevel)
				}
				if !strings.Contains(evt.Msg, tc.wantIn) {
					t.Errorf("msg = %q, want it to contain %q", evt.Msg, tc.wantIn)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout")
			}
		})
	}
}

func TestBroadcaster_IsSink(t *testing.T) {
	var _ capture.Sink = NewStatusBroadcaster()
}
