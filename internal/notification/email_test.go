package notification

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/protocol"
	"github.com/smukkama/geofence-server/pkg/config"
)

func sampleAlert(typ domain.EventType) domain.Alert {
	return domain.Alert{
		EventID:   "evt_1",
		RuleID:    "alert_1",
		EventType: typ,
		Vehicle:   domain.VehicleSnapshot{VehicleID: "veh_1", VehicleNumber: "KA-01-1234", DriverName: "O'Brien"},
		Geofence:  domain.GeofenceSnapshot{GeofenceID: "geo_1", GeofenceName: "Downtown", Category: domain.CategoryDeliveryZone},
		Location:  domain.AlertLocation{Latitude: 37.78, Longitude: -122.41},
		Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderAlert(t *testing.T) {
	subject, body, err := RenderAlert(protocol.NewAlertNotification(sampleAlert(domain.EventEntry), time.Now()))
	if err != nil {
		t.Fatalf("RenderAlert failed: %v", err)
	}
	if subject != "Geofence Entry - KA-01-1234 entered Downtown" {
		t.Errorf("unexpected subject %q", subject)
	}
	for _, want := range []string{"Driver: O'Brien", "37.780000, -122.410000", "2024-01-01 10:00:00 UTC", "Event ID: evt_1"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	subject, _, err = RenderAlert(protocol.NewAlertNotification(sampleAlert(domain.EventExit), time.Now()))
	if err != nil || !strings.Contains(subject, "left Downtown") {
		t.Errorf("unexpected exit subject %q err=%v", subject, err)
	}

	if _, _, err := RenderAlert(&protocol.AlertNotification{Type: "BOGUS"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSendAlertNotification(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "a@example.com", To: "b@example.com"}
	n := NewEmailNotifier(cfg)

	var gotAddr string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		return nil
	}

	if err := n.SendAlertNotification(protocol.NewAlertNotification(sampleAlert(domain.EventEntry), time.Now())); err != nil {
		t.Fatalf("SendAlertNotification failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("unexpected addr %q", gotAddr)
	}
	if !strings.Contains(string(gotMsg), "Subject: Geofence Entry") || !strings.Contains(string(gotMsg), "To: b@example.com") {
		t.Errorf("unexpected message %q", gotMsg)
	}

	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	if err := n.SendAlertNotification(protocol.NewAlertNotification(sampleAlert(domain.EventExit), time.Now())); err == nil {
		t.Error("expected send failure to surface")
	}
}

func TestSendAlertNotification_Unconfigured(t *testing.T) {
	n := NewEmailNotifier(&config.SMTPConfig{})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called without credentials")
		return nil
	}
	if err := n.SendAlertNotification(protocol.NewAlertNotification(sampleAlert(domain.EventEntry), time.Now())); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
