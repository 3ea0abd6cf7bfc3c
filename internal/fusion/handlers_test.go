package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
)

// call invokes a registered handler directly, bypassing the dispatcher.
// Handler behavior is identical either way; dispatcher routing is covered by
// the bridge package tests.
func call(t *testing.T, registry *bridge.Registry, method string, params map[string]any) (map[string]any, error) {
	t.Helper()
	handler, ok := registry.Lookup(method)
	require.True(t, ok, "method %s not registered", method)
	result, err := handler(context.Background(), params)
	if err != nil {
		return nil, err
	}
	out, ok := result.(map[string]any)
	require.True(t, ok, "result is not a map: %T", result)
	return out, nil
}

func newTestService(t *testing.T) (*Service, *bridge.Registry) {
	t.Helper()
	registry := bridge.NewRegistry()
	svc := NewService(NewDesign("TestDoc"), nil)
	svc.RegisterHandlers(registry)
	return svc, registry
}

func TestGetDocumentInfo(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.get_document_info", nil)
	require.NoError(t, err)
	assert.Equal(t, "TestDoc", out["name"])
	assert.Equal(t, 0, out["parameter_count"])
	assert.Equal(t, 0, out["sketch_count"])
}

func TestListMethods_IncludesAllRegistered(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.list_methods", nil)
	require.NoError(t, err)

	methods, ok := out["methods"].([]string)
	require.True(t, ok)
	assert.Contains(t, methods, "fusion.create_sketch")
	assert.Contains(t, methods, "fusion.add_radius_constraint")
	assert.Contains(t, methods, "fusion.list_methods")
}

func TestParameterHandlers_RoundTrip(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.set_parameter", map[string]any{
		"name": "width", "value": 80, "units": "mm", "comment": "overall width",
	})
	require.NoError(t, err)
	assert.Equal(t, "80 mm", out["expression"])

	out, err = call(t, registry, "fusion.get_parameter", map[string]any{"name": "width"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, out["value"])
	assert.Equal(t, "overall width", out["comment"])

	out, err = call(t, registry, "fusion.list_parameters", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])

	_, err = call(t, registry, "fusion.delete_parameter", map[string]any{"name": "width"})
	require.NoError(t, err)

	_, err = call(t, registry, "fusion.get_parameter", map[string]any{"name": "width"})
	assert.Error(t, err)
}

func TestSetParameter_DefaultsUnitsToMillimeters(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.set_parameter", map[string]any{
		"name": "depth", "value": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "mm", out["units"])
}

func TestSketchHandlers_Lifecycle(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.create_sketch", map[string]any{"name": "base"})
	require.NoError(t, err)
	sketchID := out["sketch_id"].(string)
	assert.Equal(t, "XY", out["plane"])

	out, err = call(t, registry, "fusion.list_sketches", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])

	_, err = call(t, registry, "fusion.finish_sketch", map[string]any{"sketch_id": sketchID})
	require.NoError(t, err)

	_, err = call(t, registry, "fusion.activate_sketch", map[string]any{"sketch_id": sketchID})
	require.NoError(t, err)

	_, err = call(t, registry, "fusion.delete_sketch", map[string]any{"sketch_id": sketchID})
	require.NoError(t, err)

	_, err = call(t, registry, "fusion.get_sketch_info", map[string]any{"sketch_id": sketchID})
	assert.Error(t, err)
}

func TestCreateSketch_InvalidPlane(t *testing.T) {
	_, registry := newTestService(t)

	_, err := call(t, registry, "fusion.create_sketch", map[string]any{"plane_reference": "QQ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plane")
}

func TestCreateSketchWithLine(t *testing.T) {
	svc, registry := newTestService(t)

	out, err := call(t, registry, "fusion.create_sketch_with_line", map[string]any{
		"plane_reference": "XZ",
		"start_point":     map[string]any{"x": 0, "y": 0},
		"end_point":       map[string]any{"x": 10, "y": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "XZ", out["plane"])
	assert.NotEmpty(t, out["sketch_id"])
	assert.NotEmpty(t, out["entity_id"])
	assert.NotEmpty(t, out["start_point_id"])
	assert.NotEmpty(t, out["end_point_id"])

	require.Len(t, svc.Design().Sketches, 1)
	// line plus its two endpoints
	assert.Equal(t, 3, svc.Design().Sketches[0].EntityCount())
}

func TestCreateSketchWithLine_DegenerateLineRollsBackSketch(t *testing.T) {
	svc, registry := newTestService(t)

	_, err := call(t, registry, "fusion.create_sketch_with_line", map[string]any{
		"start_point": map[string]any{"x": 5, "y": 5},
		"end_point":   map[string]any{"x": 5, "y": 5},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coincident")

	// Neither half of the operation may survive alone.
	assert.Empty(t, svc.Design().Sketches)
}

func TestGeometryHandlers_DecodeJSONShapes(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.create_sketch", nil)
	require.NoError(t, err)
	sketchID := out["sketch_id"].(string)

	// params shaped exactly as they arrive off the wire: nested maps,
	// numbers as float64
	out, err = call(t, registry, "fusion.create_line", map[string]any{
		"sketch_id":   sketchID,
		"start_point": map[string]any{"x": 0.0, "y": 0.0},
		"end_point":   map[string]any{"x": 10.0, "y": 0.0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out["entity_id"])
	assert.NotEmpty(t, out["start_point_id"])

	out, err = call(t, registry, "fusion.create_circle", map[string]any{
		"sketch_id": sketchID,
		"center":    map[string]any{"x": 5.0, "y": 5.0},
		"radius":    2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, out["radius"])

	out, err = call(t, registry, "fusion.create_arc", map[string]any{
		"sketch_id":   sketchID,
		"center":      map[string]any{"x": 0.0, "y": 0.0},
		"radius":      10.0,
		"start_angle": 0.0,
		"end_angle":   90.0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out["entity_id"])

	out, err = call(t, registry, "fusion.create_rectangle", map[string]any{
		"sketch_id": sketchID,
		"corner1":   map[string]any{"x": 0.0, "y": 0.0},
		"corner2":   map[string]any{"x": 20.0, "y": 10.0},
	})
	require.NoError(t, err)
	assert.Len(t, out["entity_ids"], 4)

	out, err = call(t, registry, "fusion.create_polygon", map[string]any{
		"sketch_id": sketchID,
		"center":    map[string]any{"x": 0.0, "y": 0.0},
		"sides":     6.0, // JSON numbers decode as float64; handler coerces
		"radius":    5.0,
	})
	require.NoError(t, err)
	assert.Len(t, out["entity_ids"], 6)

	out, err = call(t, registry, "fusion.create_spline", map[string]any{
		"sketch_id": sketchID,
		"points": []any{
			map[string]any{"x": 0.0, "y": 0.0},
			map[string]any{"x": 5.0, "y": 3.0},
			map[string]any{"x": 10.0, "y": 0.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out["point_count"])
}

func TestConstraintHandlers(t *testing.T) {
	_, registry := newTestService(t)

	out, err := call(t, registry, "fusion.create_sketch", nil)
	require.NoError(t, err)
	sketchID := out["sketch_id"].(string)

	l1, err := call(t, registry, "fusion.create_line", map[string]any{
		"sketch_id":   sketchID,
		"start_point": map[string]any{"x": 0.0, "y": 0.0},
		"end_point":   map[string]any{"x": 10.0, "y": 0.0},
	})
	require.NoError(t, err)
	l2, err := call(t, registry, "fusion.create_line", map[string]any{
		"sketch_id":   sketchID,
		"start_point": map[string]any{"x": 10.0, "y": 0.0},
		"end_point":   map[string]any{"x": 10.0, "y": 10.0},
	})
	require.NoError(t, err)

	out, err = call(t, registry, "fusion.add_coincident_constraint", map[string]any{
		"sketch_id": sketchID,
		"point1_id": l1["end_point_id"],
		"point2_id": l2["start_point_id"],
	})
	require.NoError(t, err)
	assert.Equal(t, "coincident", out["type"])

	out, err = call(t, registry, "fusion.add_perpendicular_constraint", map[string]any{
		"sketch_id": sketchID,
		"line1_id":  l1["entity_id"],
		"line2_id":  l2["entity_id"],
	})
	require.NoError(t, err)
	assert.Equal(t, "perpendicular", out["type"])

	circle, err := call(t, registry, "fusion.create_circle", map[string]any{
		"sketch_id": sketchID,
		"center":    map[string]any{"x": 5.0, "y": 5.0},
		"radius":    2.0,
	})
	require.NoError(t, err)

	out, err = call(t, registry, "fusion.add_radius_constraint", map[string]any{
		"sketch_id": sketchID,
		"entity_id": circle["entity_id"],
		"radius":    3.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "radius", out["type"])

	out, err = call(t, registry, "fusion.add_distance_constraint", map[string]any{
		"sketch_id":  sketchID,
		"entity1_id": l1["entity_id"],
		"entity2_id": l2["entity_id"],
		"distance":   10.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "distance", out["type"])

	out, err = call(t, registry, "fusion.add_angle_constraint", map[string]any{
		"sketch_id": sketchID,
		"line1_id":  l1["entity_id"],
		"line2_id":  l2["entity_id"],
		"angle":     90.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "angle", out["type"])

	info, err := call(t, registry, "fusion.get_sketch_info", map[string]any{"sketch_id": sketchID})
	require.NoError(t, err)
	constraints := info["constraints"].([]*Constraint)
	assert.Len(t, constraints, 5)
}

type fakeStore struct {
	saved map[string]*Design
	err   error
}

func (f *fakeStore) Save(ctx context.Context, name string, d *Design) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string]*Design)
	}
	f.saved[name] = d
	return nil
}

func (f *fakeStore) Load(ctx context.Context, name string) (*Design, error) {
	d, ok := f.saved[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func TestSaveDocument_PersistsThroughStore(t *testing.T) {
	registry := bridge.NewRegistry()
	store := &fakeStore{}
	svc := NewService(NewDesign("Bracket"), store)
	svc.RegisterHandlers(registry)

	out, err := call(t, registry, "fusion.save_document", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["saved"])
	assert.Contains(t, store.saved, "Bracket")

	// explicit name renames the document
	_, err = call(t, registry, "fusion.save_document", map[string]any{"name": "Bracket_v2"})
	require.NoError(t, err)
	assert.Contains(t, store.saved, "Bracket_v2")
	assert.Equal(t, "Bracket_v2", svc.Design().Name)
}

func TestSaveDocument_StoreFailureSurfaces(t *testing.T) {
	registry := bridge.NewRegistry()
	svc := NewService(NewDesign("Bracket"), &fakeStore{err: errors.New("disk full")})
	svc.RegisterHandlers(registry)

	_, err := call(t, registry, "fusion.save_document", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSaveDocument_UnnamedDocumentRejected(t *testing.T) {
	registry := bridge.NewRegistry()
	svc := NewService(NewDesign(""), nil)
	svc.RegisterHandlers(registry)

	_, err := call(t, registry, "fusion.save_document", nil)
	assert.Error(t, err)
}

func TestOpenDocument_ReplacesActiveDesign(t *testing.T) {
	registry := bridge.NewRegistry()
	saved := NewDesign("Bracket")
	_, perr := saved.SetParameter("width", 80, "mm", "")
	require.NoError(t, perr)
	store := &fakeStore{saved: map[string]*Design{"Bracket": saved}}
	svc := NewService(NewDesign("Scratch"), store)
	svc.RegisterHandlers(registry)

	out, err := call(t, registry, "fusion.open_document", map[string]any{"name": "Bracket"})
	require.NoError(t, err)
	assert.Equal(t, true, out["opened"])
	assert.Equal(t, "Bracket", out["name"])
	assert.Equal(t, 1, out["parameter_count"])

	// Subsequent calls operate on the opened design, not the old one.
	got, err := call(t, registry, "fusion.get_parameter", map[string]any{"name": "width"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, got["value"])
	assert.Equal(t, "Bracket", svc.Design().Name)
}

func TestOpenDocument_MissingDocument(t *testing.T) {
	registry := bridge.NewRegistry()
	svc := NewService(NewDesign("Scratch"), &fakeStore{})
	svc.RegisterHandlers(registry)

	_, err := call(t, registry, "fusion.open_document", map[string]any{"name": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestOpenDocument_RequiresNameAndStore(t *testing.T) {
	registry := bridge.NewRegistry()
	svc := NewService(NewDesign("Scratch"), &fakeStore{})
	svc.RegisterHandlers(registry)

	_, err := call(t, registry, "fusion.open_document", nil)
	assert.Error(t, err)

	noStore := bridge.NewRegistry()
	NewService(NewDesign("Scratch"), nil).RegisterHandlers(noStore)
	_, err = call(t, noStore, "fusion.open_document", map[string]any{"name": "Bracket"})
	assert.Error(t, err)
}
