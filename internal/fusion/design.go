package fusion

import (
	"fmt"
	"math"
	"strings"
)

// Design is the live document state the scripting handlers operate on: user
// parameters plus parametric sketches.
//
// Design is deliberately not synchronized. Handlers are the only code that
// mutates it, and the dispatcher guarantees handlers execute one at a time on
// the host's main loop; adding locks here would only hide a violation of that
// invariant.
type Design struct {
	Name       string       `json:"name"`
	Parameters []*Parameter `json:"parameters"`
	Sketches   []*Sketch    `json:"sketches"`

	activeSketch string
	nextToken    int
}

// Parameter is one user parameter. Expression is the display form the
// original scripting surface exposes ("80 mm"); Value is the resolved
// numeric value.
type Parameter struct {
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
	Units      string  `json:"units"`
	Comment    string  `json:"comment,omitempty"`
}

// Point is a 2D sketch coordinate. Sketches are planar; the host projects
// them onto their reference plane.
type Point struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
}

// Entity kinds.
const (
	EntityLine    = "line"
	EntityCircle  = "circle"
	EntityArc     = "arc"
	EntitySpline  = "spline"
	EntityPoint   = "point"
	EntityPolygon = "polygon"
)

// Entity is one sketch curve or point. Which geometry fields are meaningful
// depends on Type; unused fields stay zero and are omitted from JSON.
type Entity struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Construction bool    `json:"construction,omitempty"`
	Start        Point   `json:"start,omitempty"`
	End          Point   `json:"end,omitempty"`
	Center       Point   `json:"center,omitempty"`
	Radius       float64 `json:"radius,omitempty"`
	StartAngle   float64 `json:"start_angle,omitempty"`
	EndAngle     float64 `json:"end_angle,omitempty"`
	Points       []Point `json:"points,omitempty"`

	// StartPointID/EndPointID/CenterPointID reference the implicit point
	// entities created alongside curves, used by coincident constraints.
	StartPointID  string `json:"start_point_id,omitempty"`
	EndPointID    string `json:"end_point_id,omitempty"`
	CenterPointID string `json:"center_point_id,omitempty"`
}

// Constraint kinds.
const (
	ConstraintCoincident    = "coincident"
	ConstraintDistance      = "distance"
	ConstraintParallel      = "parallel"
	ConstraintPerpendicular = "perpendicular"
	ConstraintRadius        = "radius"
	ConstraintAngle         = "angle"
)

// Constraint records one geometric or dimensional constraint between sketch
// entities. The host's solver is outside this system; the bridge records
// constraints and applies only the trivially direct ones (a radius dimension
// updates the circle it targets).
type Constraint struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	EntityIDs []string `json:"entity_ids"`
	Value     float64  `json:"value,omitempty"`

	// Parameter optionally names a user parameter driving the dimension.
	Parameter string `json:"parameter,omitempty"`
}

// Sketch is one parametric sketch on a reference plane.
type Sketch struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Plane       string        `json:"plane"`
	Entities    []*Entity     `json:"entities"`
	Constraints []*Constraint `json:"constraints"`
	Finished    bool          `json:"finished"`
}

// valid reference planes, mirroring the host's three origin planes.
var referencePlanes = map[string]bool{"XY": true, "XZ": true, "YZ": true}

func NewDesign(name string) *Design {
	return &Design{Name: name}
}

func (d *Design) token(prefix string) string {
	d.nextToken++
	return fmt.Sprintf("%s_%d", prefix, d.nextToken)
}

// RestoreCounters rebuilds the token counter after deserializing a design,
// so new entities never collide with loaded ids.
func (d *Design) RestoreCounters() {
	max := 0
	bump := func(id string) {
		if i := strings.LastIndexByte(id, '_'); i >= 0 {
			var n int
			if _, err := fmt.Sscanf(id[i+1:], "%d", &n); err == nil && n > max {
				max = n
			}
		}
	}
	for _, s := range d.Sketches {
		bump(s.ID)
		for _, e := range s.Entities {
			bump(e.ID)
		}
		for _, c := range s.Constraints {
			bump(c.ID)
		}
	}
	d.nextToken = max
}

// ---- parameters ----

// ParameterByName returns the user parameter with the given name, or nil.
func (d *Design) ParameterByName(name string) *Parameter {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// SetParameter creates or updates a user parameter. Updating preserves
// creation order, matching how the host lists parameters.
func (d *Design) SetParameter(name string, value float64, units, comment string) (*Parameter, error) {
	if name == "" {
		return nil, fmt.Errorf("parameter name is required")
	}

	expression := formatExpression(value, units)

	if p := d.ParameterByName(name); p != nil {
		p.Value = value
		p.Units = units
		p.Expression = expression
		if comment != "" {
			p.Comment = comment
		}
		return p, nil
	}

	p := &Parameter{
		Name:       name,
		Expression: expression,
		Value:      value,
		Units:      units,
		Comment:    comment,
	}
	d.Parameters = append(d.Parameters, p)
	return p, nil
}

// DeleteParameter removes a user parameter. Parameters referenced by a
// dimensional constraint cannot be deleted.
func (d *Design) DeleteParameter(name string) error {
	for _, sketch := range d.Sketches {
		for _, c := range sketch.Constraints {
			if c.Parameter == name {
				return fmt.Errorf("parameter %s is referenced by constraint %s", name, c.ID)
			}
		}
	}

	for i, p := range d.Parameters {
		if p.Name == name {
			d.Parameters = append(d.Parameters[:i], d.Parameters[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("parameter not found: %s", name)
}

func formatExpression(value float64, units string) string {
	// The host expects "80 mm", not "80.0 mm", for integral values.
	if value == math.Trunc(value) {
		if units == "" {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%d %s", int64(value), units)
	}
	if units == "" {
		return strings.TrimRight(fmt.Sprintf("%f", value), "0")
	}
	return strings.TrimRight(fmt.Sprintf("%f", value), "0") + " " + units
}

// ---- sketches ----

// AddSketch creates a sketch on the given reference plane and makes it the
// active sketch, matching the host's create-activates behavior.
func (d *Design) AddSketch(name, plane string) (*Sketch, error) {
	if !referencePlanes[plane] {
		return nil, fmt.Errorf("invalid plane reference: %s", plane)
	}

	sketch := &Sketch{
		ID:    d.token("sketch"),
		Plane: plane,
	}
	if name != "" {
		sketch.Name = name
	} else {
		sketch.Name = fmt.Sprintf("Sketch%d", len(d.Sketches)+1)
	}

	d.Sketches = append(d.Sketches, sketch)
	d.activeSketch = sketch.ID
	return sketch, nil
}

// SketchByID returns the sketch with the given id, or nil.
func (d *Design) SketchByID(id string) *Sketch {
	for _, s := range d.Sketches {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ActiveSketch returns the sketch currently open for editing, or nil.
func (d *Design) ActiveSketch() *Sketch {
	if d.activeSketch == "" {
		return nil
	}
	return d.SketchByID(d.activeSketch)
}

// ActivateSketch reopens a sketch for editing.
func (d *Design) ActivateSketch(id string) (*Sketch, error) {
	sketch := d.SketchByID(id)
	if sketch == nil {
		return nil, fmt.Errorf("sketch not found: %s", id)
	}
	sketch.Finished = false
	d.activeSketch = id
	return sketch, nil
}

// FinishSketch closes a sketch for editing.
func (d *Design) FinishSketch(id string) (*Sketch, error) {
	sketch := d.SketchByID(id)
	if sketch == nil {
		return nil, fmt.Errorf("sketch not found: %s", id)
	}
	sketch.Finished = true
	if d.activeSketch == id {
		d.activeSketch = ""
	}
	return sketch, nil
}

// DeleteSketch removes a sketch and everything in it.
func (d *Design) DeleteSketch(id string) error {
	for i, s := range d.Sketches {
		if s.ID == id {
			d.Sketches = append(d.Sketches[:i], d.Sketches[i+1:]...)
			if d.activeSketch == id {
				d.activeSketch = ""
			}
			return nil
		}
	}
	return fmt.Errorf("sketch not found: %s", id)
}

// editable returns the sketch if it exists and is open for editing.
func (d *Design) editable(sketchID string) (*Sketch, error) {
	sketch := d.SketchByID(sketchID)
	if sketch == nil {
		return nil, fmt.Errorf("sketch not found: %s", sketchID)
	}
	if sketch.Finished {
		return nil, fmt.Errorf("sketch %s is finished; activate it before editing", sketchID)
	}
	return sketch, nil
}

// ---- geometry ----

func (s *Sketch) entityByID(id string) *Entity {
	for _, e := range s.Entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Sketch) addPoint(d *Design, at Point) *Entity {
	p := &Entity{ID: d.token("point"), Type: EntityPoint, Start: at}
	s.Entities = append(s.Entities, p)
	return p
}

// AddLine creates a line plus its two endpoint entities.
func (d *Design) AddLine(sketchID string, start, end Point, construction bool) (*Entity, error) {
	sketch, err := d.editable(sketchID)
	if err != nil {
		return nil, err
	}
	if start == end {
		return nil, fmt.Errorf("line endpoints are coincident")
	}

	sp := sketch.addPoint(d, start)
	ep := sketch.addPoint(d, end)

	line := &Entity{
		ID:           d.token("line"),
		Type:         EntityLine,
		Construction: construction,
		Start:        start,
		End:          end,
		StartPointID: sp.ID,
		EndPointID:   ep.ID,
	}
	sketch.Entities = append(sketch.Entities, line)
	return line, nil
}

// AddCircle creates a circle plus its center point entity.
func (d *Design) AddCircle(sketchID string, center Point, radius float64, construction bool) (*Entity, error) {
	sketch, err := d.editable(sketchID)
	if err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be a positive number")
	}

	cp := sketch.addPoint(d, center)

	circle := &Entity{
		ID:            d.token("circle"),
		Type:          EntityCircle,
		Construction:  construction,
		Center:        center,
		Radius:        radius,
		CenterPointID: cp.ID,
	}
	sketch.Entities = append(sketch.Entities, circle)
	return circle, nil
}

// AddArc creates a circular arc from center, radius and a start/end angle
// pair in degrees.
func (d *Design) AddArc(sketchID string, center Point, radius, startAngle, endAngle float64, construction bool) (*Entity, error) {
	sketch, err := d.editable(sketchID)
	if err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be a positive number")
	}
	if startAngle == endAngle {
		return nil, fmt.Errorf("arc start and end angles are equal")
	}

	start := pointOnCircle(center, radius, startAngle)
	end := pointOnCircle(center, radius, endAngle)

	cp := sketch.addPoint(d, center)
	sp := sketch.addPoint(d, start)
	ep := sketch.addPoint(d, end)

	arc := &Entity{
		ID:            d.token("arc"),
		Type:          EntityArc,
		Construction:  construction,
		Center:        center,
		Radius:        radius,
		StartAngle:    startAngle,
		EndAngle:      endAngle,
		Start:         start,
		End:           end,
		CenterPointID: cp.ID,
		StartPointID:  sp.ID,
		EndPointID:    ep.ID,
	}
	sketch.Entities = append(sketch.Entities, arc)
	return arc, nil
}

// AddRectangle creates the four lines of an axis-aligned rectangle between
// two opposite corners.
func (d *Design) AddRectangle(sketchID string, corner1, corner2 Point, construction bool) ([]*Entity, error) {
	if math.Abs(corner1.X-corner2.X) < 1e-3 && math.Abs(corner1.Y-corner2.Y) < 1e-3 {
		return nil, fmt.Errorf("rectangle corners are too close together")
	}

	corners := []Point{
		corner1,
		{X: corner2.X, Y: corner1.Y},
		corner2,
		{X: corner1.X, Y: corner2.Y},
	}

	lines := make([]*Entity, 0, 4)
	for i := range corners {
		line, err := d.AddLine(sketchID, corners[i], corners[(i+1)%4], construction)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// AddPolygon creates a closed regular polygon as n lines around a center.
// rotation is in degrees and offsets the first vertex.
func (d *Design) AddPolygon(sketchID string, center Point, sides int, radius, rotation float64, construction bool) ([]*Entity, error) {
	if sides < 3 {
		return nil, fmt.Errorf("polygon requires at least 3 sides")
	}
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be a positive number")
	}

	vertices := make([]Point, sides)
	for i := 0; i < sides; i++ {
		angle := rotation + float64(i)*360.0/float64(sides)
		vertices[i] = pointOnCircle(center, radius, angle)
	}

	lines := make([]*Entity, 0, sides)
	for i := range vertices {
		line, err := d.AddLine(sketchID, vertices[i], vertices[(i+1)%sides], construction)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// AddSpline creates a fitted spline through the given points.
func (d *Design) AddSpline(sketchID string, points []Point, construction bool) (*Entity, error) {
	sketch, err := d.editable(sketchID)
	if err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("spline requires at least 2 points")
	}

	spline := &Entity{
		ID:           d.token("spline"),
		Type:         EntitySpline,
		Construction: construction,
		Points:       points,
	}
	sketch.Entities = append(sketch.Entities, spline)
	return spline, nil
}

func pointOnCircle(center Point, radius, angleDegrees float64) Point {
	rad := angleDegrees * math.Pi / 180.0
	return Point{
		X: center.X + radius*math.Cos(rad),
		Y: center.Y + radius*math.Sin(rad),
	}
}

// ---- constraints ----

// AddConstraint validates the referenced entities and records the
// constraint. Radius dimensions are applied directly to circular targets;
// everything else is recorded for the host's solver.
func (d *Design) AddConstraint(sketchID, kind string, entityIDs []string, value float64, parameter string) (*Constraint, error) {
	sketch, err := d.editable(sketchID)
	if err != nil {
		return nil, err
	}

	for _, id := range entityIDs {
		if sketch.entityByID(id) == nil {
			return nil, fmt.Errorf("entity not found: %s", id)
		}
	}

	switch kind {
	case ConstraintCoincident:
		if err := requireEntities(sketch, entityIDs, 2, EntityPoint); err != nil {
			return nil, err
		}
	case ConstraintParallel, ConstraintPerpendicular:
		if err := requireEntities(sketch, entityIDs, 2, EntityLine); err != nil {
			return nil, err
		}
	case ConstraintAngle:
		if err := requireEntities(sketch, entityIDs, 2, EntityLine); err != nil {
			return nil, err
		}
	case ConstraintDistance:
		if len(entityIDs) != 2 {
			return nil, fmt.Errorf("distance constraint requires 2 entities, got %d", len(entityIDs))
		}
		if value <= 0 {
			return nil, fmt.Errorf("distance must be a positive number")
		}
	case ConstraintRadius:
		if len(entityIDs) != 1 {
			return nil, fmt.Errorf("radius constraint requires 1 entity, got %d", len(entityIDs))
		}
		target := sketch.entityByID(entityIDs[0])
		if target.Type != EntityCircle && target.Type != EntityArc {
			return nil, fmt.Errorf("entity %s is not a circle or arc", target.ID)
		}
		if value <= 0 {
			return nil, fmt.Errorf("radius must be a positive number")
		}
		target.Radius = value
	default:
		return nil, fmt.Errorf("unknown constraint type: %s", kind)
	}

	if parameter != "" && d.ParameterByName(parameter) == nil {
		return nil, fmt.Errorf("parameter not found: %s", parameter)
	}

	c := &Constraint{
		ID:        d.token("constraint"),
		Type:      kind,
		EntityIDs: entityIDs,
		Value:     value,
		Parameter: parameter,
	}
	sketch.Constraints = append(sketch.Constraints, c)
	return c, nil
}

func requireEntities(s *Sketch, ids []string, count int, entityType string) error {
	if len(ids) != count {
		return fmt.Errorf("%s constraint requires %d entities, got %d", entityType, count, len(ids))
	}
	for _, id := range ids {
		e := s.entityByID(id)
		if e.Type != entityType {
			return fmt.Errorf("entity %s is a %s, expected %s", id, e.Type, entityType)
		}
	}
	return nil
}

// EntityCount counts curves and points in the sketch.
func (s *Sketch) EntityCount() int {
	return len(s.Entities)
}

// IsFullyConstrained is a heuristic the host computes exactly; here it is
// approximated as "every curve participates in at least one constraint".
func (s *Sketch) IsFullyConstrained() bool {
	constrained := make(map[string]bool)
	for _, c := range s.Constraints {
		for _, id := range c.EntityIDs {
			constrained[id] = true
		}
	}

	for _, e := range s.Entities {
		if e.Type == EntityPoint {
			continue
		}
		if !constrained[e.ID] {
			return false
		}
	}
	return len(s.Entities) > 0
}
