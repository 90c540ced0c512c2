package notifications

import "html/template"

// mailBody is the data every template renders with. Token and
// ActionURL are empty for informational mail.
type mailBody struct {
	DisplayName string
	SiteName    string
	SiteURL     string
	Token       string
	ActionURL   string
}

const verificationTemplate = `<html>
<body>
  <p>Hi {{.DisplayName}},</p>
  <p>Welcome to {{.SiteName}}. Confirm your email address to activate your account:</p>
  <p><a href="{{.ActionURL}}">Verify my email</a></p>
  <p>Or paste this code into the verification form:</p>
  <p><code>{{.Token}}</code></p>
  <p>If you did not create this account you can ignore this message.</p>
</body>
</html>`

const recoveryTemplate = `<html>
<body>
  <p>Hi {{.DisplayName}},</p>
  <p>We received a request to reset the password for your {{.SiteName}} account.</p>
  <p><a href="{{.ActionURL}}">Choose a new password</a></p>
  <p>Or paste this code into the reset form:</p>
  <p><code>{{.Token}}</code></p>
  <p>If you did not request this, no action is needed; your password is unchanged.</p>
</body>
</html>`

const accountUpdatedTemplate = `<html>
<body>
  <p>Hi {{.DisplayName}},</p>
  <p>Your {{.SiteName}} account was just updated. If this was you, all good.</p>
  <p>If you did not make this change, reset your password immediately at
  <a href="{{.SiteURL}}">{{.SiteURL}}</a> and contact support.</p>
</body>
</html>`

var (
	verificationTmpl   = template.Must(template.New("verification").Parse(verificationTemplate))
	recoveryTmpl       = template.Must(template.New("recovery").Parse(recoveryTemplate))
	accountUpdatedTmpl = template.Must(template.New("account_updated").Parse(accountUpdatedTemplate))
)
