package router

// InputShape names how a route's request body is decoded before the
// handler runs, spec §3's RouterEntry.InputShape.
type InputShape int

const (
	// ShapeNone means the handler receives no decoded body -- GET,
	// OPTIONS, and bodyless POST/PUT routes.
	ShapeNone InputShape = iota
	// ShapeList means the body must decode as a JSON array.
	ShapeList
	// ShapeMap means the body must decode as a JSON object.
	ShapeMap
	// ShapeListOfMap means the body must decode as a JSON array of
	// objects.
	ShapeListOfMap
)

// List is the decoded form of ShapeList.
type List = []any

// Map is the decoded form of ShapeMap.
type Map = map[string]any

// ListOfMap is the decoded form of ShapeListOfMap.
type ListOfMap = []Map
