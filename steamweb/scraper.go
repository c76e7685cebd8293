package steamweb

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Profile is the outcome of validating a user id or vanity name against
// the community profile page.
type Profile struct {
	Valid       bool   `json:"valid"`
	ProfileName string `json:"profile_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsNumericID bool   `json:"is_numeric_id"`
	Error       string `json:"error,omitempty"`
}

// GameEntry is one app in the screenshots landing page selector. The count
// is Steam's advertised number, authoritative for UI display only.
type GameEntry struct {
	AppID           int64  `json:"app_id"`
	Name            string `json:"name"`
	ScreenshotCount int    `json:"screenshot_count"`
}

// ScreenshotRef identifies one screenshot on a listing page.
type ScreenshotRef struct {
	SteamScreenshotID string
	DetailURL         string
	ThumbURL          string
}

// ScreenshotDetail is the resolved detail page of a screenshot.
type ScreenshotDetail struct {
	ImageURL    string
	Description string
	TakenAt     *time.Time
}

// ValidateProfile fetches the profile page for the credentials' id (numeric
// or vanity, as set in creds.IsNumericID by the caller) and extracts display
// name and avatar. Any failure yields Valid=false with a
// reason rather than an error; only context cancellation propagates.
func (c *Client) ValidateProfile(ctx context.Context, creds Credentials) (Profile, error) {
	p := Profile{IsNumericID: creds.IsNumericID}

	doc, err := c.getDoc(ctx, creds, c.profileURL(creds))
	if err != nil {
		if ctx.Err() != nil {
			return p, ctx.Err()
		}
		p.Error = err.Error()
		return p, nil
	}

	name := strings.TrimSpace(doc.Find("span.actual_persona_name").First().Text())
	if name == "" {
		p.Error = "profile page missing persona name"
		return p, nil
	}
	p.Valid = true
	p.ProfileName = name
	p.AvatarURL, _ = doc.Find("div.playerAvatarAutoSizeInner img").First().Attr("src")
	return p, nil
}

// DiscoverGames parses the per-app filter on the screenshots landing page
// into the list of games that have screenshots.
func (c *Client) DiscoverGames(ctx context.Context, creds Credentials) ([]GameEntry, error) {
	pageURL := c.profileURL(creds) + "/screenshots/?browsefilter=myfiles&view=grid"
	doc, err := c.getDoc(ctx, creds, pageURL)
	if err != nil {
		return nil, err
	}

	var games []GameEntry
	doc.Find(`[id^="sharedfiles_filterselect_app_option_"]`).Each(func(_ int, sel *goquery.Selection) {
		id, ok := sel.Attr("id")
		if !ok {
			return
		}
		appID, err := strconv.ParseInt(strings.TrimPrefix(id, "sharedfiles_filterselect_app_option_"), 10, 64)
		if err != nil || appID == 0 {
			return
		}
		count := 0
		countSel := sel.Find("span.filter_count")
		if raw := strings.Trim(strings.TrimSpace(countSel.Text()), "()"); raw != "" {
			count, _ = strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
		}
		countSel.Remove()
		name := strings.TrimSpace(sel.Text())
		if name == "" {
			return
		}
		games = append(games, GameEntry{AppID: appID, Name: name, ScreenshotCount: count})
	})

	if games == nil {
		// Distinguish "no screenshots" from "not the page we expected".
		if doc.Find("#image_wall").Length() == 0 && doc.Find(".profile_media_items").Length() == 0 {
			return nil, &ParseError{URL: pageURL, Reason: "screenshots page missing expected markup"}
		}
	}
	return games, nil
}

// EnumerateScreenshots walks the paginated listing for one app and returns
// every screenshot reference. Enumeration stops when a page yields zero new
// ids.
func (c *Client) EnumerateScreenshots(ctx context.Context, creds Credentials, appID int64) ([]ScreenshotRef, error) {
	seen := make(map[string]struct{})
	var refs []ScreenshotRef

	for page := 1; ; page++ {
		pageURL := c.profileURL(creds) +
			"/screenshots/?appid=" + strconv.FormatInt(appID, 10) +
			"&browsefilter=myfiles&view=grid&p=" + strconv.Itoa(page)
		doc, err := c.getDoc(ctx, creds, pageURL)
		if err != nil {
			return nil, err
		}

		newOnPage := 0
		doc.Find("a.profile_media_item").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			id := screenshotIDFromURL(href)
			if id == "" {
				return
			}
			if _, dup := seen[id]; dup {
				return
			}
			seen[id] = struct{}{}
			newOnPage++
			thumb, _ := sel.Find("img").First().Attr("src")
			refs = append(refs, ScreenshotRef{
				SteamScreenshotID: id,
				DetailURL:         c.absolute(href),
				ThumbURL:          thumb,
			})
		})

		if newOnPage == 0 {
			return refs, nil
		}
	}
}

// ResolveScreenshot follows a detail page to the full-resolution image URL,
// the optional user description, and the capture date.
func (c *Client) ResolveScreenshot(ctx context.Context, creds Credentials, ref ScreenshotRef) (ScreenshotDetail, error) {
	doc, err := c.getDoc(ctx, creds, ref.DetailURL)
	if err != nil {
		return ScreenshotDetail{}, err
	}

	imgURL, ok := doc.Find("img#ActualMedia").First().Attr("src")
	if !ok {
		// Some detail pages link the raw file instead of inlining it.
		imgURL, ok = doc.Find("a.actualmediactn").First().Attr("href")
	}
	if !ok || imgURL == "" {
		return ScreenshotDetail{}, &ParseError{URL: ref.DetailURL, Reason: "detail page missing media element"}
	}

	d := ScreenshotDetail{
		ImageURL:    stripSizingParams(imgURL),
		Description: strings.TrimSpace(doc.Find("div.screenshotDescription").First().Text()),
	}
	if taken := parseSteamDate(strings.TrimSpace(doc.Find("div.detailsStatRight").First().Text())); !taken.IsZero() {
		t := taken
		d.TakenAt = &t
	}
	return d, nil
}

// getDoc fetches a page and parses it, transparently replaying the
// mature-content interstitial when one is served.
func (c *Client) getDoc(ctx context.Context, creds Credentials, rawURL string) (*goquery.Document, error) {
	doc, err := c.fetchDoc(ctx, creds, rawURL)
	if err != nil {
		return nil, err
	}
	if isMatureGate(doc) {
		replayURL, err := matureReplayURL(doc, rawURL, creds.SessionID)
		if err != nil {
			return nil, err
		}
		doc, err = c.fetchDoc(ctx, creds, replayURL)
		if err != nil {
			return nil, err
		}
		if isMatureGate(doc) {
			return nil, &ParseError{URL: rawURL, Reason: "mature content gate persisted after replay"}
		}
	}
	return doc, nil
}

func (c *Client) fetchDoc(ctx context.Context, creds Credentials, rawURL string) (*goquery.Document, error) {
	resp, err := c.get(ctx, creds, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: rawURL, Reason: err.Error()}
	}
	return doc, nil
}

func isMatureGate(doc *goquery.Document) bool {
	return doc.Find("form#content_check_form, div.contentcheck_desc").Length() > 0
}

// matureReplayURL rebuilds the "view anyway" form submission as a GET:
// the interstitial form's hidden inputs plus the live sessionid cookie.
func matureReplayURL(doc *goquery.Document, origURL, sessionID string) (string, error) {
	u, err := url.Parse(origURL)
	if err != nil {
		return "", &ParseError{URL: origURL, Reason: "bad original url"}
	}
	q := u.Query()
	doc.Find("form#content_check_form input[type=hidden]").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		value, _ := sel.Attr("value")
		if name != "" {
			q.Set(name, value)
		}
	})
	if sessionID != "" {
		q.Set("sessionid", sessionID)
	}
	q.Set("mature_content_check", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// screenshotIDFromURL pulls the numeric file id out of a
// sharedfiles/filedetails/?id=NNN link.
func screenshotIDFromURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !strings.Contains(u.Path, "/sharedfiles/filedetails") {
		return ""
	}
	id := u.Query().Get("id")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return ""
	}
	return id
}

// stripSizingParams drops Steam's resize query from a CDN image URL so we
// download the original resolution.
func stripSizingParams(imgURL string) string {
	u, err := url.Parse(imgURL)
	if err != nil {
		return imgURL
	}
	q := u.Query()
	q.Del("imw")
	q.Del("imh")
	q.Del("ima")
	q.Del("impolicy")
	q.Del("letterbox")
	u.RawQuery = q.Encode()
	return u.String()
}

var steamDateLayouts = []string{
	"Jan 2, 2006 @ 3:04pm",
	"2 Jan, 2006 @ 3:04pm",
	"Jan 2 @ 3:04pm",
}

func parseSteamDate(s string) time.Time {
	for _, layout := range steamDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Layouts without a year mean the current one.
			if t.Year() == 0 {
				now := time.Now().UTC()
				t = t.AddDate(now.Year(), 0, 0)
			}
			return t
		}
	}
	return time.Time{}
}

// absolute resolves a possibly relative community link against the client
// base.
func (c *Client) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.baseURL + "/" + strings.TrimPrefix(href, "/")
}
