package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const SignatureHeader = "X-Hub-Signature-256"

// Sign returns the X-Hub-Signature-256 value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature rejects requests whose body is not signed with secret. An
// empty secret admits every request.
func VerifySignature(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		got := c.Get(SignatureHeader)
		if !strings.HasPrefix(got, "sha256=") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Signature missing",
			})
		}

		if !hmac.Equal([]byte(got), []byte(Sign(secret, c.Body()))) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Signature mismatch",
			})
		}

		return c.Next()
	}
}
