package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

// Configured reports whether the SMTP mailer can be used at all.
func Configured() bool {
	return os.Getenv("SMTP_HOST") != "" && os.Getenv("SMTP_PORT") != "" &&
		os.Getenv("SMTP_USER") != "" && os.Getenv("SMTP_PASS") != ""
}

func SendWelcome(to string) error {
	subject := "Welcome to ScriptGenius"
	body := "Thanks for signing up. Your Free plan includes 5 scripts. Head to the generator and create your first one!"
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] welcome sent to %s", to)
	return nil
}

func SendPasswordChanged(to string) error {
	subject := "Password updated"
	body := "Your ScriptGenius password was changed. If this wasn't you, contact support immediately."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] password change notification sent to %s", to)
	return nil
}

// SendSubscriptionActivated notifies the user that a paid plan is live.
func SendSubscriptionActivated(to, planName string) error {
	subject := "Your " + planName + " plan is active"
	body := fmt.Sprintf("Your %s subscription is now active. Enjoy your new script limits!", planName)
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] subscription activated sent to %s plan=%s", to, planName)
	return nil
}

// SendSubscriptionCancelled confirms a cancellation and the downgrade to Free.
func SendSubscriptionCancelled(to string) error {
	subject := "Subscription cancelled"
	body := "Your subscription has been cancelled. Your account has been moved back to the Free plan."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] subscription cancelled sent to %s", to)
	return nil
}

// SendUpgradeSuggestion promotes the paid plans to free users.
func SendUpgradeSuggestion(to string) error {
	subject := "Generate more scripts with a paid plan"
	body := "You're on the Free plan. Upgrade to Starter or Pro for daily script limits and more themes."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] upgrade suggestion sent to %s", to)
	return nil
}
