package membership

// HealthReporter is optionally implemented by a Membership to expose the
// failure detector's view of the local node. Lower scores are healthier and
// -1 means the layer is not running.
type HealthReporter interface {
    HealthScore() int
}
