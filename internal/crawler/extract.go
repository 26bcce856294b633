package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// pageSnapshot is the crawler's local decoding of one query_page result.
type pageSnapshot struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	Links        []string  `json:"links"`
	Forms        []rawForm `json:"forms"`
	HeadingCount int       `json:"heading_count"`
	ArticleCount int       `json:"article_count"`
	MainCount    int       `json:"main_count"`
}

type rawForm struct {
	Action     string     `json:"action"`
	Method     string     `json:"method"`
	SubmitText string     `json:"submit_text"`
	Fields     []rawField `json:"fields"`
}

type rawField struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder"`
}

// decodeSnapshot remarshals a query_page tool result into a pageSnapshot.
func decodeSnapshot(result interface{}) (*pageSnapshot, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var snap pageSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// fingerprint computes the content fingerprint §4.5 describes: a hash
// of the first ~1000 chars of visible text plus structural counts, so
// two renders of the same content are recognized as duplicates.
func fingerprint(snap *pageSnapshot) string {
	text := snap.Text
	if len(text) > 1000 {
		text = text[:1000]
	}
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{byte(snap.HeadingCount), byte(snap.ArticleCount), byte(snap.MainCount)})
	return hex.EncodeToString(h.Sum(nil))
}

var loginSubmitPattern = regexp.MustCompile(`(?i)log\s?in|sign\s?in`)

// toDiscoveredForms converts raw forms into the wire DiscoveredForm
// shape, setting the has-password/has-email/has-search flags §4.5
// names.
func toDiscoveredForms(forms []rawForm) []types.DiscoveredForm {
	out := make([]types.DiscoveredForm, 0, len(forms))
	for _, f := range forms {
		df := types.DiscoveredForm{Action: f.Action, Method: f.Method}
		for _, field := range f.Fields {
			df.Fields = append(df.Fields, types.FormField{
				Type:        field.Type,
				Name:        field.Name,
				ID:          field.ID,
				Required:    field.Required,
				Placeholder: field.Placeholder,
			})
			switch strings.ToLower(field.Type) {
			case "password":
				df.HasPassword = true
			case "email":
				df.HasEmail = true
			case "search":
				df.HasSearch = true
			}
		}
		out = append(out, df)
	}
	return out
}

// detectAuth reports whether any form on the page looks like a login
// form per §4.5: a password field present, or a submit whose visible
// text matches login|sign in|log in.
func detectAuth(forms []rawForm) bool {
	for _, f := range forms {
		if loginSubmitPattern.MatchString(f.SubmitText) {
			return true
		}
		for _, field := range f.Fields {
			if strings.EqualFold(field.Type, "password") {
				return true
			}
		}
	}
	return false
}

// admit implements §4.5's admission rules for whether candidate should
// be crawled from the current crawl state.
func admit(cfg config.CrawlConfig, seedHost, candidate string, depth int) bool {
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		return false
	}
	if cfg.SameDomainOnly && !sameHost(seedHost, candidate) {
		return false
	}
	if depth > cfg.MaxDepth {
		return false
	}
	if blockedExtensions[extension(candidate)] {
		return false
	}
	for _, raw := range cfg.ExcludePatterns {
		if re, err := regexp.Compile(raw); err == nil && re.MatchString(candidate) {
			return false
		}
	}
	if len(cfg.IncludePatterns) > 0 {
		matched := false
		for _, raw := range cfg.IncludePatterns {
			if re, err := regexp.Compile(raw); err == nil && re.MatchString(candidate) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
