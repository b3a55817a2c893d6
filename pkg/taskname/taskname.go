package taskname

const (
	// Points tasks
	PointsAwarded = "points:awarded"
)
