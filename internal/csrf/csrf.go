package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Manager выдает токены, привязанные к администратору, действию и записи.
// Токен для approve одной записи не подходит ни для reject, ни для другой записи.
// Токен имеет вид "<unix-время выдачи>.<подпись>" и живет ttl.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *Manager) Generate(subject, action string, id int64) string {
	issued := strconv.FormatInt(m.now().Unix(), 10)
	return issued + "." + m.sign(issued, subject, action, id)
}

func (m *Manager) Validate(token, subject, action string, id int64) bool {
	issued, signature, ok := strings.Cut(token, ".")
	if !ok || issued == "" || signature == "" {
		return false
	}
	if !hmac.Equal([]byte(signature), []byte(m.sign(issued, subject, action, id))) {
		return false
	}

	unix, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return false
	}
	age := m.now().Sub(time.Unix(unix, 0))
	// Небольшой допуск на расхождение часов между экземплярами
	return age >= -time.Minute && age <= m.ttl
}

func (m *Manager) sign(issued, subject, action string, id int64) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(issued))
	mac.Write([]byte{0})
	mac.Write([]byte(subject))
	mac.Write([]byte{0})
	mac.Write([]byte(action))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(id, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
