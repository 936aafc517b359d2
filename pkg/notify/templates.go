package notify

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

// TaskMailParams carries everything the notification templates can render.
type TaskMailParams struct {
	EventType       string
	OrganizationID  string
	TaskID          string
	Title           string
	Description     string
	Status          string
	Priority        string
	Severity        string
	AssigneeRole    string
	EscalationLevel int
	DeadlineAt      string // formatted reactivity deadline, empty when unset
	BrandingName    string
}

var (
	taskNotificationTemplate = template.New("taskNotification").Funcs(sprig.FuncMap())

	//go:embed templates/task_notification.html
	taskNotificationTemplateRaw string
)

func init() {
	if _, err := taskNotificationTemplate.Parse(taskNotificationTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

// RenderTaskNotification renders the mail body for a task lifecycle event.
func RenderTaskNotification(p TaskMailParams) (string, error) {
	return render(taskNotificationTemplate, p)
}
