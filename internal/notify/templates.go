// internal/notify/templates.go
package notify

import (
	"bytes"
	"html/template"
	"time"
)

// Email bodies are rendered per notification type; unknown types fall
// back to the plain template.
var bodyTemplates = template.Must(template.New("notify").Parse(`
{{define "alert"}}<h2>Energy Alert</h2>
<p>An alert has been triggered for your energy meter:</p>
<ul>
  <li><strong>Device:</strong> {{.Device}}</li>
  <li><strong>Alert Type:</strong> {{.Type}}</li>
  <li><strong>Message:</strong> {{.Body}}</li>
  <li><strong>Timestamp:</strong> {{.Timestamp}}</li>
</ul>
<p>Please check your energy meter dashboard for more details.</p>{{end}}

{{define "warning"}}<h2>{{.Title}}</h2>
<p>{{.Body}}</p>
<p>This is a warning from your smart energy meter. Please review your dashboard.</p>{{end}}

{{define "info"}}<h2>{{.Title}}</h2>
<p>{{.Body}}</p>{{end}}

{{define "plain"}}<p>{{.Body}}</p>{{end}}
`))

type templateData struct {
	Title     string
	Body      string
	Type      string
	Device    string
	Timestamp string
}

func renderBody(msg Message) (string, error) {
	name := msg.Type
	switch name {
	case "alert", "warning", "info":
	default:
		name = "plain"
	}

	td := templateData{
		Title:     msg.Title,
		Body:      msg.Body,
		Type:      msg.Type,
		Device:    msg.Data["deviceName"],
		Timestamp: time.Now().Format(time.RFC1123),
	}
	if td.Device == "" {
		td.Device = "Unknown"
	}

	var buf bytes.Buffer
	if err := bodyTemplates.ExecuteTemplate(&buf, name, td); err != nil {
		return "", err
	}
	return buf.String(), nil
}
