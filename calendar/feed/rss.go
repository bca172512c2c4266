package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/dukop/eventcal/calendar"
	"github.com/dukop/eventcal/calendar/storage"
)

// RSS renders the entries as an RSS 2.0 document. Besides the standard
// item elements every item carries a start_datetime element, which
// downstream aggregators use to sort by occurrence rather than by
// publication.
func RSS(title, baseURL, description string, entries []calendar.Upcoming, now time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	rss := doc.CreateElement("rss")
	rss.CreateAttr("version", "2.0")
	channel := rss.CreateElement("channel")
	channel.CreateElement("title").SetText(title)
	channel.CreateElement("link").SetText(baseURL)
	channel.CreateElement("description").SetText(description)
	channel.CreateElement("lastBuildDate").SetText(now.UTC().Format(time.RFC1123Z))

	for _, entry := range entries {
		item := channel.CreateElement("item")
		item.CreateElement("title").SetText(entry.Event.Name)
		item.CreateElement("link").SetText(eventLink(baseURL, entry.Event.Slug))
		item.CreateElement("description").SetText(entry.Event.Description)
		guid := item.CreateElement("guid")
		guid.CreateAttr("isPermaLink", "false")
		guid.SetText(entry.Occurrence.ID.String())
		item.CreateElement("pubDate").SetText(entry.Occurrence.Created.UTC().Format(time.RFC1123Z))
		item.CreateElement("start_datetime").SetText(entry.Occurrence.Start.UTC().Format(time.RFC3339))
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize rss: %w", err)
	}
	return out, nil
}

func eventLink(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/events/" + slug
}

func location(event *storage.Event) string {
	var parts []string
	if event.VenueName != "" {
		parts = append(parts, event.VenueName)
	}
	if event.Street != "" {
		parts = append(parts, event.Street)
	}
	city := strings.TrimSpace(event.City + " " + event.ZipCode)
	if city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, "\n")
}
