package email

// Drivers accepted by NewSender.
const (
	DriverPostmark = "postmark"
	DriverDir      = "dir"
	DriverLog      = "log"
)

// Config holds email service configuration. The Postmark tokens are only
// required by the postmark driver.
type Config struct {
	Driver               string `env:"EMAIL_DRIVER" envDefault:"log"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@example.com"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`
	OutputDir            string `env:"EMAIL_OUTPUT_DIR" envDefault:"./tmp/emails"`
}
