package history

// CategoryYouTube is the only event header eligible for replay.
const CategoryYouTube = "YouTube"

// AdsDetailName marks events that were served as advertisements.
const AdsDetailName = "From Google Ads"

// VideoEvent is one record of a watch-history export. Optional keys of the
// source JSON are pointers (or nil slices) so absence is explicit.
type VideoEvent struct {
	Header   string   `json:"header"`
	Time     string   `json:"time"`
	Title    *string  `json:"title,omitempty"`
	TitleURL *string  `json:"titleUrl,omitempty"`
	Details  []Detail `json:"details,omitempty"`
}

// Detail is a single entry of the optional details list.
type Detail struct {
	Name string `json:"name"`
}

// URL returns the title URL or an empty string when absent.
func (e VideoEvent) URL() string {
	if e.TitleURL == nil {
		return ""
	}
	return *e.TitleURL
}

// HasURL reports whether the event carries a non-empty title URL.
func (e VideoEvent) HasURL() bool {
	return e.TitleURL != nil && *e.TitleURL != ""
}

// IsAd reports whether any detail marks the event as an advertisement.
// Events without details are never ads.
func (e VideoEvent) IsAd() bool {
	for _, d := range e.Details {
		if d.Name == AdsDetailName {
			return true
		}
	}
	return false
}

// WorkItem is a deduplicated, eligible event reduced to its URL and time.
type WorkItem struct {
	URL  string
	Time string
}
