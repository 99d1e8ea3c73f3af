package services

import (
	"bytes"
	"fmt"
	"html/template"

	"treasure-hunt-system/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type notificationTemplate struct {
	subject string
	body    *template.Template
}

var titleCaser = cases.Title(language.English)

var templateFuncs = template.FuncMap{
	"title": func(s interface{}) string { return titleCaser.String(fmt.Sprint(s)) },
}

func mustTemplate(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(body))
}

var notificationTemplates = map[string]notificationTemplate{
	models.TemplateWelcome: {
		subject: "Welcome to the Treasure Hunt",
		body: mustTemplate("welcome", `<h2>Welcome aboard, {{title .name}}!</h2>
<p>Your {{.role}} account is ready.</p>
{{if .pending}}<p>Complete your {{.tier}} registration payment to activate your entry.</p>{{end}}`),
	},
	models.TemplatePaymentCompleted: {
		subject: "Payment received - you're in!",
		body: mustTemplate("payment_completed", `<h2>Thanks, {{title .name}}!</h2>
<p>We received your payment of {{.amount}} {{.currency}} for the <strong>{{.tier}}</strong> tier.</p>
<p>Your entry is now active. Good luck on the hunt!</p>`),
	},
	models.TemplatePaymentFailed: {
		subject: "Your payment did not go through",
		body: mustTemplate("payment_failed", `<h2>Hi {{title .name}},</h2>
<p>Your payment for the <strong>{{.tier}}</strong> tier failed: {{.reason}}.</p>
<p>You can start a new checkout at any time.</p>`),
	},
	models.TemplatePromoterApproved: {
		subject: "Your promoter account is approved",
		body: mustTemplate("promoter_approved", `<h2>Congratulations, {{title .name}}!</h2>
<p>Your promoter account has been approved.</p>
<p>Your referral code is <strong>{{.referral_code}}</strong>. Share it with your audience.</p>`),
	},
	models.TemplatePromoterRejected: {
		subject: "Update on your promoter application",
		body: mustTemplate("promoter_rejected", `<h2>Hi {{title .name}},</h2>
<p>Unfortunately your promoter application was not approved.</p>
{{if .reason}}<p>Reason: {{.reason}}</p>{{end}}`),
	},
	models.TemplateReferralConverted: {
		subject: "You earned a referral commission",
		body: mustTemplate("referral_converted", `<h2>Nice work, {{title .name}}!</h2>
<p>A participant you referred completed a <strong>{{.tier}}</strong> registration.</p>
<p>Commission earned: {{.commission}}</p>`),
	},
}

// RenderNotification renders the subject and HTML body for a template key.
func RenderNotification(key string, data map[string]interface{}) (subject, body string, err error) {
	tpl, ok := notificationTemplates[key]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", key)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", key, err)
	}
	return tpl.subject, buf.String(), nil
}
