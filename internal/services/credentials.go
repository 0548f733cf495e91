package services

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
)

const (
	defaultBusinessName = "My Business LLC"
	defaultFillValue    = "AutoFill"
)

// countryNames maps country mentions to dial codes, ordered so longer
// names win before their substrings.
var countryNames = []struct {
	name string
	dial string
}{
	{"united arab emirates", "971"},
	{"united kingdom", "44"},
	{"united states", "1"},
	{"saudi arabia", "966"},
	{"great britain", "44"},
	{"pakistan", "92"},
	{"australia", "61"},
	{"germany", "49"},
	{"america", "1"},
	{"canada", "1"},
	{"france", "33"},
	{"india", "91"},
	{"dubai", "971"},
	{"saudi", "966"},
	{"uae", "971"},
	{"usa", "1"},
	{"uk", "44"},
}

var isoToDial = map[string]string{
	"pk": "92",
	"in": "91",
	"gb": "44",
	"uk": "44",
	"ae": "971",
	"sa": "966",
	"us": "1",
	"ca": "1",
	"au": "61",
	"de": "49",
	"fr": "33",
}

var emojiToDial = map[string]string{
	"\U0001F1F5\U0001F1F0": "92",  // PK
	"\U0001F1EE\U0001F1F3": "91",  // IN
	"\U0001F1EC\U0001F1E7": "44",  // GB
	"\U0001F1E6\U0001F1EA": "971", // AE
	"\U0001F1F8\U0001F1E6": "966", // SA
	"\U0001F1FA\U0001F1F8": "1",   // US
	"\U0001F1E8\U0001F1E6": "1",   // CA
	"\U0001F1E6\U0001F1FA": "61",  // AU
	"\U0001F1E9\U0001F1EA": "49",  // DE
	"\U0001F1EB\U0001F1F7": "33",  // FR
}

var knownDialCodes = map[string]bool{
	"1": true, "33": true, "44": true, "49": true, "61": true,
	"91": true, "92": true, "966": true, "971": true,
}

// phonePlan describes how to build a plausible national number
type phonePlan struct {
	prefixes []string
	length   int
}

var phonePlans = map[string]phonePlan{
	"44":  {prefixes: []string{"7"}, length: 10},
	"92":  {prefixes: []string{"3"}, length: 10},
	"91":  {prefixes: []string{"6", "7", "8", "9"}, length: 10},
	"971": {prefixes: []string{"50", "52", "54", "55", "56", "58"}, length: 9},
	"966": {prefixes: []string{"5"}, length: 9},
	"61":  {prefixes: []string{"4"}, length: 9},
	"49":  {prefixes: []string{"15", "16", "17"}, length: 11},
	"33":  {prefixes: []string{"6", "7"}, length: 9},
}

// CredentialService resolves form field values from the configured identity
type CredentialService struct {
	creds    models.Credentials
	password string
	rng      *rand.Rand
	logger   *logrus.Logger
}

// NewCredentialService creates a credential service around one identity.
// The rand source is injected so tests can pin phone generation.
func NewCredentialService(creds models.Credentials, rng *rand.Rand, logger *logrus.Logger) CredentialServiceInterface {
	s := &CredentialService{
		creds:  creds,
		rng:    rng,
		logger: logger,
	}
	s.password = s.generatePassword()
	return s
}

// Credentials returns the configured identity
func (s *CredentialService) Credentials() models.Credentials {
	return s.creds
}

// Resolve returns the value to type into a field of the given type. When
// fieldType is empty the input's attributes decide.
func (s *CredentialService) Resolve(fieldType string, input *models.InputInfo) string {
	if fieldType == "" && input != nil {
		fieldType = DetectFieldType(*input)
	}

	switch strings.ToLower(fieldType) {
	case "email":
		return s.creds.Email
	case "first_name":
		return s.creds.FirstName
	case "last_name":
		if s.creds.LastName != "" {
			return s.creds.LastName
		}
		return s.creds.FirstName
	case "full_name", "name":
		return s.creds.FullName
	case "phone":
		if s.creds.Phone != "" {
			return s.creds.Phone
		}
		return s.GeneratePhone(s.creds.CountryCode).Rendered
	case "company", "business":
		return defaultBusinessName
	case "website":
		first := strings.ToLower(strings.TrimSpace(s.creds.FirstName))
		if first == "" {
			first = "my"
		}
		return fmt.Sprintf("https://%sbusiness.com", first)
	case "password":
		return s.password
	case "checkbox":
		return "true"
	case "address":
		return "123 Main Street"
	case "city":
		return "New York"
	case "state":
		return "NY"
	case "zip":
		return "10001"
	case "country":
		return "United States"
	case "message":
		return "I would like to learn more about your services."
	default:
		return defaultFillValue
	}
}

// DetectCountryCode inspects phone widget signals in priority order and
// returns a dial code, or "" when nothing matched.
func (s *CredentialService) DetectCountryCode(w models.PhoneWidgetInfo) string {
	for _, title := range w.WidgetTitles {
		if dial := countryNameDial(title); dial != "" {
			s.logger.WithFields(logrus.Fields{"signal": "widget_title", "dial": dial}).Debug("Detected phone country")
			return dial
		}
	}
	for _, attr := range w.DataAttrs {
		if dial := isoOrDial(attr); dial != "" {
			s.logger.WithFields(logrus.Fields{"signal": "data_attr", "dial": dial}).Debug("Detected phone country")
			return dial
		}
	}
	for _, img := range w.FlagImages {
		if dial := flagFileDial(img); dial != "" {
			s.logger.WithFields(logrus.Fields{"signal": "flag_image", "dial": dial}).Debug("Detected phone country")
			return dial
		}
	}
	for _, emoji := range w.Emojis {
		if dial, ok := emojiToDial[emoji]; ok {
			s.logger.WithFields(logrus.Fields{"signal": "emoji", "dial": dial}).Debug("Detected phone country")
			return dial
		}
	}
	if dial := countryNameDial(w.FormText); dial != "" {
		s.logger.WithFields(logrus.Fields{"signal": "form_text", "dial": dial}).Debug("Detected phone country")
		return dial
	}
	return ""
}

// GeneratePhone builds a plausible number for the dial code. Unknown codes
// fall back to a generic ten digit number.
func (s *CredentialService) GeneratePhone(countryCode string) models.Phone {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = "1"
	}

	var national string
	if countryCode == "1" {
		national = s.nanpNumber()
	} else if plan, ok := phonePlans[countryCode]; ok {
		prefix := plan.prefixes[s.rng.Intn(len(plan.prefixes))]
		national = prefix + s.digits(plan.length-len(prefix))
	} else {
		national = s.digitInRange(2, 9) + s.digits(9)
	}

	return models.Phone{
		CountryCode:    countryCode,
		NationalNumber: national,
		Rendered:       "+" + countryCode + national,
	}
}

// nanpNumber builds a ten digit US or Canada number with valid area and
// exchange codes.
func (s *CredentialService) nanpNumber() string {
	area := s.digitInRange(2, 9) + s.digits(2)
	exchange := s.digitInRange(2, 9) + s.digits(2)
	line := s.digits(4)
	return area + exchange + line
}

func (s *CredentialService) digits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + s.rng.Intn(10)))
	}
	return b.String()
}

func (s *CredentialService) digitInRange(lo, hi int) string {
	return string(byte('0' + lo + s.rng.Intn(hi-lo+1)))
}

func (s *CredentialService) generatePassword() string {
	const lower = "abcdefghjkmnpqrstuvwxyz"
	const upper = "ABCDEFGHJKMNPQRSTUVWXYZ"

	var b strings.Builder
	b.WriteByte(upper[s.rng.Intn(len(upper))])
	for i := 0; i < 7; i++ {
		b.WriteByte(lower[s.rng.Intn(len(lower))])
	}
	b.WriteString(s.digits(3))
	b.WriteByte('!')
	return b.String()
}

func countryNameDial(text string) string {
	lower := strings.ToLower(text)
	if lower == "" {
		return ""
	}
	for _, entry := range countryNames {
		// Short aliases need word boundaries so "uk" stays out of "ukraine".
		if len(entry.name) <= 3 {
			if containsWord(lower, entry.name) {
				return entry.dial
			}
			continue
		}
		if strings.Contains(lower, entry.name) {
			return entry.dial
		}
	}
	return ""
}

func isoOrDial(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, "+")
	if dial, ok := isoToDial[v]; ok {
		return dial
	}
	if knownDialCodes[v] {
		return v
	}
	return ""
}

var flagTokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func flagFileDial(path string) string {
	for _, token := range flagTokenPattern.FindAllString(strings.ToLower(path), -1) {
		if len(token) != 2 {
			continue
		}
		if dial, ok := isoToDial[token]; ok {
			return dial
		}
	}
	return ""
}
