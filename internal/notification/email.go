package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/protocol"
	"github.com/smukkama/geofence-server/pkg/config"
)

var alertTemplate = template.Must(template.New("alert").Parse(`
Geofence {{.Verb}}
=================

Vehicle: {{.Alert.Vehicle.VehicleNumber}} ({{.Alert.Vehicle.VehicleID}})
Driver: {{.Alert.Vehicle.DriverName}}
Geofence: {{.Alert.Geofence.GeofenceName}} [{{.Alert.Geofence.Category}}]
Location: {{printf "%.6f" .Alert.Location.Latitude}}, {{printf "%.6f" .Alert.Location.Longitude}}
Time: {{.Alert.Timestamp.Format "2006-01-02 15:04:05 MST"}}
Event ID: {{.Alert.EventID}}
Rule ID: {{.Alert.RuleID}}

Vehicle {{.Alert.Vehicle.VehicleNumber}} {{.Action}} {{.Alert.Geofence.GeofenceName}}.

---
Geofence Server Notification System
`))

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail}
}

// SendAlertNotification emails one geofence alert
func (e *EmailNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	subject, body, err := RenderAlert(n)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return e.sendEmail(subject, body)
}

// RenderAlert builds the subject and body for an alert notification
func RenderAlert(n *protocol.AlertNotification) (string, string, error) {
	var verb, action string
	switch n.Type {
	case protocol.AlertTypeEntry:
		verb, action = "Entry", "entered"
	case protocol.AlertTypeExit:
		verb, action = "Exit", "left"
	default:
		return "", "", fmt.Errorf("unknown notification type: %s", n.Type)
	}

	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, struct {
		Verb   string
		Action string
		Alert  domain.Alert
	}{verb, action, n.Alert})
	if err != nil {
		return "", "", err
	}

	subject := fmt.Sprintf("Geofence %s - %s %s %s",
		verb, n.Alert.Vehicle.VehicleNumber, action, n.Alert.Geofence.GeofenceName)
	return subject, buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}
