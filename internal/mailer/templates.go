package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/pribylovaa/exam-auth/internal/models"
)

var codeTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>{{.Brand}}</h2>
  <p>Hello{{if .Name}}, {{.Name}}{{end}}!</p>
  <p>{{.Intro}}</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>The code expires in {{.Minutes}} minutes. If you did not request it, ignore this email.</p>
</body>
</html>
`))

type codeView struct {
	Brand   string
	Name    string
	Intro   string
	Code    string
	Minutes int
}

// renderCode возвращает тему и HTML-тело письма с кодом.
func renderCode(brand string, purpose models.CodePurpose, name, code string, ttl time.Duration) (string, []byte, error) {
	var subject, intro string

	switch purpose {
	case models.PurposeVerification:
		subject = fmt.Sprintf("%s: verify your email", brand)
		intro = "Use this code to verify your email address:"
	default:
		subject = fmt.Sprintf("%s: your one-time code", brand)
		intro = "Use this one-time code to continue:"
	}

	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	err := codeTemplate.Execute(&buf, codeView{
		Brand:   brand,
		Name:    name,
		Intro:   intro,
		Code:    code,
		Minutes: minutes,
	})
	if err != nil {
		return "", nil, err
	}

	return subject, buf.Bytes(), nil
}
