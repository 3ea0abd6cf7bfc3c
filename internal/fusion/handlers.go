package fusion

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
	"github.com/getmanbill/fusion360-mcp/internal/logger"
)

// Service exposes a Design over the bridge as fusion.* methods. All handlers
// run on the host main loop, so they touch the design without locking.
type Service struct {
	design *Design
	store  SnapshotStore
}

// SnapshotStore persists serialized designs. Implementations live in
// pkg/snapshot; a nil store makes save_document a validation-only no-op.
type SnapshotStore interface {
	Save(ctx context.Context, name string, design *Design) error
	Load(ctx context.Context, name string) (*Design, error)
}

func NewService(design *Design, store SnapshotStore) *Service {
	return &Service{design: design, store: store}
}

// Design returns the document the service operates on.
func (s *Service) Design() *Design {
	return s.design
}

// RegisterHandlers registers every fusion.* method on the registry.
func (s *Service) RegisterHandlers(registry *bridge.Registry) {
	handlers := map[string]bridge.Handler{
		"fusion.get_document_info": s.getDocumentInfo,
		"fusion.open_document":     s.openDocument,
		"fusion.save_document":     s.saveDocument,
		"fusion.list_methods":      nil, // replaced below, needs the registry

		"fusion.list_parameters":  s.listParameters,
		"fusion.get_parameter":    s.getParameter,
		"fusion.set_parameter":    s.setParameter,
		"fusion.delete_parameter": s.deleteParameter,

		"fusion.create_sketch":   s.createSketch,
		"fusion.list_sketches":   s.listSketches,
		"fusion.get_sketch_info": s.getSketchInfo,
		"fusion.activate_sketch": s.activateSketch,
		"fusion.finish_sketch":   s.finishSketch,
		"fusion.delete_sketch":   s.deleteSketch,

		"fusion.create_sketch_with_line": s.createSketchWithLine,

		"fusion.create_line":      s.createLine,
		"fusion.create_circle":    s.createCircle,
		"fusion.create_arc":       s.createArc,
		"fusion.create_rectangle": s.createRectangle,
		"fusion.create_polygon":   s.createPolygon,
		"fusion.create_spline":    s.createSpline,

		"fusion.add_coincident_constraint":    s.addCoincidentConstraint,
		"fusion.add_distance_constraint":      s.addDistanceConstraint,
		"fusion.add_parallel_constraint":      s.addParallelConstraint,
		"fusion.add_perpendicular_constraint": s.addPerpendicularConstraint,
		"fusion.add_radius_constraint":        s.addRadiusConstraint,
		"fusion.add_angle_constraint":         s.addAngleConstraint,
	}

	handlers["fusion.list_methods"] = func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"methods": registry.Methods()}, nil
	}

	for method, handler := range handlers {
		registry.Register(method, handler)
	}
	logger.Debug("registered %d fusion handlers", len(handlers))
}

// decode maps loosely-typed JSON params onto a typed request struct.
// WeaklyTypedInput tolerates the usual scripting-client sloppiness, like
// integers where floats are expected.
func decode(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// ---- document ----

func (s *Service) getDocumentInfo(ctx context.Context, params map[string]any) (any, error) {
	return map[string]any{
		"name":            s.design.Name,
		"parameter_count": len(s.design.Parameters),
		"sketch_count":    len(s.design.Sketches),
	}, nil
}

func (s *Service) saveDocument(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name string `mapstructure:"name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		req.Name = s.design.Name
	}
	if req.Name == "" {
		return nil, fmt.Errorf("document has no name; pass one to save_document")
	}

	if s.store != nil {
		if err := s.store.Save(ctx, req.Name, s.design); err != nil {
			return nil, fmt.Errorf("saving document %s: %w", req.Name, err)
		}
	}
	s.design.Name = req.Name
	logger.Info("saved document %s", req.Name)
	return map[string]any{"saved": true, "name": req.Name}, nil
}

// openDocument replaces the active design with a previously saved one.
// Unsaved changes in the current design are discarded, matching the host
// application's open semantics.
func (s *Service) openDocument(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name string `mapstructure:"name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name parameter is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("no document store configured")
	}

	design, err := s.store.Load(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("opening document %s: %w", req.Name, err)
	}
	s.design = design
	logger.Info("opened document %s", req.Name)
	return map[string]any{
		"opened":          true,
		"name":            design.Name,
		"parameter_count": len(design.Parameters),
		"sketch_count":    len(design.Sketches),
	}, nil
}

// ---- parameters ----

func (s *Service) listParameters(ctx context.Context, params map[string]any) (any, error) {
	out := make([]map[string]any, 0, len(s.design.Parameters))
	for _, p := range s.design.Parameters {
		out = append(out, parameterInfo(p))
	}
	return map[string]any{"parameters": out, "count": len(out)}, nil
}

func (s *Service) getParameter(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name string `mapstructure:"name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	p := s.design.ParameterByName(req.Name)
	if p == nil {
		return nil, fmt.Errorf("parameter not found: %s", req.Name)
	}
	return parameterInfo(p), nil
}

func (s *Service) setParameter(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name    string  `mapstructure:"name"`
		Value   float64 `mapstructure:"value"`
		Units   string  `mapstructure:"units"`
		Comment string  `mapstructure:"comment"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Units == "" {
		req.Units = "mm"
	}

	p, err := s.design.SetParameter(req.Name, req.Value, req.Units, req.Comment)
	if err != nil {
		return nil, err
	}
	return parameterInfo(p), nil
}

func (s *Service) deleteParameter(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name string `mapstructure:"name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if err := s.design.DeleteParameter(req.Name); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "name": req.Name}, nil
}

func parameterInfo(p *Parameter) map[string]any {
	info := map[string]any{
		"name":       p.Name,
		"expression": p.Expression,
		"value":      p.Value,
		"units":      p.Units,
	}
	if p.Comment != "" {
		info["comment"] = p.Comment
	}
	return info
}

// ---- sketches ----

func (s *Service) createSketch(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name           string `mapstructure:"name"`
		PlaneReference string `mapstructure:"plane_reference"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.PlaneReference == "" {
		req.PlaneReference = "XY"
	}

	sketch, err := s.design.AddSketch(req.Name, req.PlaneReference)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sketch_id": sketch.ID,
		"name":      sketch.Name,
		"plane":     sketch.Plane,
	}, nil
}

// createSketchWithLine creates a sketch and its first line in one call, so
// scripting clients do not race their own sketch activation. If the line is
// rejected the sketch is removed again; either both exist afterwards or
// neither does.
func (s *Service) createSketchWithLine(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		Name           string `mapstructure:"name"`
		PlaneReference string `mapstructure:"plane_reference"`
		StartPoint     Point  `mapstructure:"start_point"`
		EndPoint       Point  `mapstructure:"end_point"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.PlaneReference == "" {
		req.PlaneReference = "XY"
	}

	sketch, err := s.design.AddSketch(req.Name, req.PlaneReference)
	if err != nil {
		return nil, err
	}
	line, err := s.design.AddLine(sketch.ID, req.StartPoint, req.EndPoint, false)
	if err != nil {
		if delErr := s.design.DeleteSketch(sketch.ID); delErr != nil {
			logger.Error("rolling back sketch %s: %v", sketch.ID, delErr)
		}
		return nil, err
	}
	return map[string]any{
		"sketch_id":      sketch.ID,
		"name":           sketch.Name,
		"plane":          sketch.Plane,
		"entity_id":      line.ID,
		"start_point_id": line.StartPointID,
		"end_point_id":   line.EndPointID,
	}, nil
}

func (s *Service) listSketches(ctx context.Context, params map[string]any) (any, error) {
	out := make([]map[string]any, 0, len(s.design.Sketches))
	for _, sk := range s.design.Sketches {
		out = append(out, map[string]any{
			"sketch_id":    sk.ID,
			"name":         sk.Name,
			"plane":        sk.Plane,
			"entity_count": sk.EntityCount(),
			"finished":     sk.Finished,
		})
	}
	return map[string]any{"sketches": out, "count": len(out)}, nil
}

func (s *Service) getSketchInfo(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	sketch := s.design.SketchByID(req.SketchID)
	if sketch == nil {
		return nil, fmt.Errorf("sketch not found: %s", req.SketchID)
	}

	return map[string]any{
		"sketch_id":         sketch.ID,
		"name":              sketch.Name,
		"plane":             sketch.Plane,
		"entities":          sketch.Entities,
		"constraints":       sketch.Constraints,
		"finished":          sketch.Finished,
		"fully_constrained": sketch.IsFullyConstrained(),
	}, nil
}

func (s *Service) activateSketch(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	sketch, err := s.design.ActivateSketch(req.SketchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sketch_id": sketch.ID, "active": true}, nil
}

func (s *Service) finishSketch(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	sketch, err := s.design.FinishSketch(req.SketchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sketch_id": sketch.ID, "finished": true}, nil
}

func (s *Service) deleteSketch(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if err := s.design.DeleteSketch(req.SketchID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "sketch_id": req.SketchID}, nil
}

// ---- geometry ----

func (s *Service) createLine(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string `mapstructure:"sketch_id"`
		StartPoint   Point  `mapstructure:"start_point"`
		EndPoint     Point  `mapstructure:"end_point"`
		Construction bool   `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	line, err := s.design.AddLine(req.SketchID, req.StartPoint, req.EndPoint, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":      line.ID,
		"start_point_id": line.StartPointID,
		"end_point_id":   line.EndPointID,
	}, nil
}

func (s *Service) createCircle(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string  `mapstructure:"sketch_id"`
		Center       Point   `mapstructure:"center"`
		Radius       float64 `mapstructure:"radius"`
		Construction bool    `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	circle, err := s.design.AddCircle(req.SketchID, req.Center, req.Radius, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":       circle.ID,
		"center_point_id": circle.CenterPointID,
		"radius":          circle.Radius,
	}, nil
}

func (s *Service) createArc(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string  `mapstructure:"sketch_id"`
		Center       Point   `mapstructure:"center"`
		Radius       float64 `mapstructure:"radius"`
		StartAngle   float64 `mapstructure:"start_angle"`
		EndAngle     float64 `mapstructure:"end_angle"`
		Construction bool    `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	arc, err := s.design.AddArc(req.SketchID, req.Center, req.Radius, req.StartAngle, req.EndAngle, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":       arc.ID,
		"center_point_id": arc.CenterPointID,
		"start_point_id":  arc.StartPointID,
		"end_point_id":    arc.EndPointID,
	}, nil
}

func (s *Service) createRectangle(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string `mapstructure:"sketch_id"`
		Corner1      Point  `mapstructure:"corner1"`
		Corner2      Point  `mapstructure:"corner2"`
		Construction bool   `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	lines, err := s.design.AddRectangle(req.SketchID, req.Corner1, req.Corner2, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_ids": entityIDs(lines)}, nil
}

func (s *Service) createPolygon(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string  `mapstructure:"sketch_id"`
		Center       Point   `mapstructure:"center"`
		Sides        int     `mapstructure:"sides"`
		Radius       float64 `mapstructure:"radius"`
		Rotation     float64 `mapstructure:"rotation"`
		Construction bool    `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	lines, err := s.design.AddPolygon(req.SketchID, req.Center, req.Sides, req.Radius, req.Rotation, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_ids": entityIDs(lines), "sides": req.Sides}, nil
}

func (s *Service) createSpline(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID     string  `mapstructure:"sketch_id"`
		Points       []Point `mapstructure:"points"`
		Construction bool    `mapstructure:"construction"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	spline, err := s.design.AddSpline(req.SketchID, req.Points, req.Construction)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_id": spline.ID, "point_count": len(spline.Points)}, nil
}

func entityIDs(entities []*Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

// ---- constraints ----

func (s *Service) addCoincidentConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
		Point1ID string `mapstructure:"point1_id"`
		Point2ID string `mapstructure:"point2_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintCoincident, []string{req.Point1ID, req.Point2ID}, 0, ""))
}

func (s *Service) addDistanceConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID      string  `mapstructure:"sketch_id"`
		Entity1ID     string  `mapstructure:"entity1_id"`
		Entity2ID     string  `mapstructure:"entity2_id"`
		Distance      float64 `mapstructure:"distance"`
		ParameterName string  `mapstructure:"parameter_name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintDistance, []string{req.Entity1ID, req.Entity2ID}, req.Distance, req.ParameterName))
}

func (s *Service) addParallelConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
		Line1ID  string `mapstructure:"line1_id"`
		Line2ID  string `mapstructure:"line2_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintParallel, []string{req.Line1ID, req.Line2ID}, 0, ""))
}

func (s *Service) addPerpendicularConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string `mapstructure:"sketch_id"`
		Line1ID  string `mapstructure:"line1_id"`
		Line2ID  string `mapstructure:"line2_id"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintPerpendicular, []string{req.Line1ID, req.Line2ID}, 0, ""))
}

func (s *Service) addRadiusConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID      string  `mapstructure:"sketch_id"`
		EntityID      string  `mapstructure:"entity_id"`
		Radius        float64 `mapstructure:"radius"`
		ParameterName string  `mapstructure:"parameter_name"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintRadius, []string{req.EntityID}, req.Radius, req.ParameterName))
}

func (s *Service) addAngleConstraint(ctx context.Context, params map[string]any) (any, error) {
	var req struct {
		SketchID string  `mapstructure:"sketch_id"`
		Line1ID  string  `mapstructure:"line1_id"`
		Line2ID  string  `mapstructure:"line2_id"`
		Angle    float64 `mapstructure:"angle"`
	}
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.constraintResult(s.design.AddConstraint(
		req.SketchID, ConstraintAngle, []string{req.Line1ID, req.Line2ID}, req.Angle, ""))
}

func (s *Service) constraintResult(c *Constraint, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"constraint_id": c.ID, "type": c.Type}, nil
}
