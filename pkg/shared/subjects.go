package shared

import "fmt"

// NATS Subject patterns
const (
	SubjectPrefix = "jalrakshak"

	// Reading subjects
	SubjectReadings        = "jalrakshak.readings"
	SubjectReadingsAll     = "jalrakshak.readings.>"
	SubjectReadingCreated  = "jalrakshak.readings.%s.created"  // site_id
	SubjectReadingReviewed = "jalrakshak.readings.%s.reviewed" // site_id

	// Site subjects
	SubjectSites       = "jalrakshak.sites"
	SubjectSitesAll    = "jalrakshak.sites.>"
	SubjectSiteCreated = "jalrakshak.sites.%s.created" // site_id
)

// Stream names
const (
	StreamReadings = "JALRAKSHAK_READINGS"
	StreamSites    = "JALRAKSHAK_SITES"
)

// Consumer names
const (
	ConsumerReadingFeed = "reading-feed"
	ConsumerSiteFeed    = "site-feed"
)

func ReadingCreatedSubject(siteID string) string {
	return fmt.Sprintf(SubjectReadingCreated, siteID)
}

func ReadingReviewedSubject(siteID string) string {
	return fmt.Sprintf(SubjectReadingReviewed, siteID)
}

func SiteCreatedSubject(siteID string) string {
	return fmt.Sprintf(SubjectSiteCreated, siteID)
}
