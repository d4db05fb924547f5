package threat

// GeoRisk classifies the geolocation risk of an address.
type GeoRisk int

const (
	GeoRiskNone GeoRisk = iota
	GeoRiskMedium
	GeoRiskHigh
)

// GeoClassifier assigns a geolocation risk to an IP's country code.
// The country lists are a policy decision, so the classifier is
// pluggable rather than hard-coded into the analyzer.
type GeoClassifier interface {
	Classify(country string) GeoRisk
}

// StaticGeoClassifier classifies against fixed country lists.
type StaticGeoClassifier struct {
	high   map[string]struct{}
	medium map[string]struct{}
}

// NewStaticGeoClassifier builds a classifier from country code lists.
func NewStaticGeoClassifier(highRisk, mediumRisk []string) *StaticGeoClassifier {
	c := &StaticGeoClassifier{
		high:   make(map[string]struct{}, len(highRisk)),
		medium: make(map[string]struct{}, len(mediumRisk)),
	}
	for _, cc := range highRisk {
		c.high[cc] = struct{}{}
	}
	for _, cc := range mediumRisk {
		c.medium[cc] = struct{}{}
	}
	return c
}

// Classify returns the configured risk for a country code.
func (c *StaticGeoClassifier) Classify(country string) GeoRisk {
	if country == "" {
		return GeoRiskNone
	}
	if _, ok := c.high[country]; ok {
		return GeoRiskHigh
	}
	if _, ok := c.medium[country]; ok {
		return GeoRiskMedium
	}
	return GeoRiskNone
}

// NoopGeoClassifier treats every location as unremarkable.
type NoopGeoClassifier struct{}

// Classify always returns no geolocation risk.
func (NoopGeoClassifier) Classify(string) GeoRisk { return GeoRiskNone }
