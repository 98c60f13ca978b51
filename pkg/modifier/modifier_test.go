package modifier

import (
	"testing"

	"github.com/mnohosten/relaydb/pkg/document"
)

func newDoc(fields map[string]interface{}) *document.Document {
	d := document.NewDocument()
	for k, v := range fields {
		d.Set(k, v)
	}
	return d
}

func TestApplySet(t *testing.T) {
	d := newDoc(map[string]interface{}{"name": "rex"})
	err := Apply(d, map[string]interface{}{"$set": map[string]interface{}{"name": "fido", "age": 3}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, _ := d.Get("name")
	age, _ := d.Get("age")
	if name != "fido" || age.(int64) != 3 {
		t.Errorf("unexpected state: name=%v age=%v", name, age)
	}
}

func TestApplySetOnInsert(t *testing.T) {
	d := newDoc(nil)
	mod := map[string]interface{}{"$setOnInsert": map[string]interface{}{"createdBy": "system"}}

	if err := Apply(d, mod, Options{IsInsert: false}); err != nil {
		t.Fatal(err)
	}
	if d.Has("createdBy") {
		t.Error("expected $setOnInsert to be skipped on a non-insert update")
	}

	if err := Apply(d, mod, Options{IsInsert: true}); err != nil {
		t.Fatal(err)
	}
	if !d.Has("createdBy") {
		t.Error("expected $setOnInsert to apply on insert")
	}
}

func TestApplyUnset(t *testing.T) {
	d := newDoc(map[string]interface{}{"a": 1, "b": 2})
	if err := Apply(d, map[string]interface{}{"$unset": map[string]interface{}{"a": ""}}, Options{}); err != nil {
		t.Fatal(err)
	}
	if d.Has("a") {
		t.Error("expected a to be unset")
	}
}

func TestApplyIncMulMinMax(t *testing.T) {
	d := newDoc(map[string]interface{}{"count": int64(5), "price": 10.0})

	if err := Apply(d, map[string]interface{}{"$inc": map[string]interface{}{"count": int64(3)}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ := d.Get("count")
	if v.(int64) != 8 {
		t.Errorf("expected count=8, got %v", v)
	}

	if err := Apply(d, map[string]interface{}{"$mul": map[string]interface{}{"price": 2.0}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ = d.Get("price")
	if v.(float64) != 20.0 {
		t.Errorf("expected price=20, got %v", v)
	}

	if err := Apply(d, map[string]interface{}{"$min": map[string]interface{}{"count": int64(2)}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ = d.Get("count")
	if v.(int64) != 2 {
		t.Errorf("expected $min to lower count to 2, got %v", v)
	}

	if err := Apply(d, map[string]interface{}{"$max": map[string]interface{}{"count": int64(9)}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ = d.Get("count")
	if v.(int64) != 9 {
		t.Errorf("expected $max to raise count to 9, got %v", v)
	}
}

func TestApplyRename(t *testing.T) {
	d := newDoc(map[string]interface{}{"old": "v"})
	if err := Apply(d, map[string]interface{}{"$rename": map[string]interface{}{"old": "new"}}, Options{}); err != nil {
		t.Fatal(err)
	}
	if d.Has("old") {
		t.Error("expected old field removed")
	}
	v, ok := d.Get("new")
	if !ok || v != "v" {
		t.Errorf("expected new field to carry renamed value, got %v", v)
	}
}

func TestApplyAddToSetAndPush(t *testing.T) {
	d := newDoc(map[string]interface{}{"tags": []interface{}{"a"}})

	if err := Apply(d, map[string]interface{}{"$addToSet": map[string]interface{}{"tags": "a"}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ := d.Get("tags")
	if len(v.([]interface{})) != 1 {
		t.Errorf("expected $addToSet to dedupe, got %v", v)
	}

	if err := Apply(d, map[string]interface{}{"$push": map[string]interface{}{"tags": "b"}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ = d.Get("tags")
	if len(v.([]interface{})) != 2 {
		t.Errorf("expected $push to append, got %v", v)
	}
}

func TestApplyPushEachSlice(t *testing.T) {
	d := newDoc(map[string]interface{}{"scores": []interface{}{int64(1)}})
	mod := map[string]interface{}{
		"$push": map[string]interface{}{
			"scores": map[string]interface{}{
				"$each":  []interface{}{int64(2), int64(3), int64(4)},
				"$slice": -2,
			},
		},
	}
	if err := Apply(d, mod, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ := d.Get("scores")
	arr := v.([]interface{})
	if len(arr) != 2 || arr[0].(int64) != 3 || arr[1].(int64) != 4 {
		t.Errorf("expected last two scores [3 4], got %v", arr)
	}
}

func TestApplyPullAndPullAll(t *testing.T) {
	d := newDoc(map[string]interface{}{"tags": []interface{}{"a", "b", "c"}})
	if err := Apply(d, map[string]interface{}{"$pull": map[string]interface{}{"tags": "b"}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ := d.Get("tags")
	if len(v.([]interface{})) != 2 {
		t.Errorf("expected $pull to remove one element, got %v", v)
	}

	d2 := newDoc(map[string]interface{}{"tags": []interface{}{"a", "b", "c"}})
	if err := Apply(d2, map[string]interface{}{"$pullAll": map[string]interface{}{"tags": []interface{}{"a", "c"}}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ = d2.Get("tags")
	arr := v.([]interface{})
	if len(arr) != 1 || arr[0] != "b" {
		t.Errorf("expected only 'b' to remain, got %v", arr)
	}
}

func TestApplyPop(t *testing.T) {
	d := newDoc(map[string]interface{}{"items": []interface{}{"x", "y", "z"}})
	if err := Apply(d, map[string]interface{}{"$pop": map[string]interface{}{"items": 1}}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, _ := d.Get("items")
	arr := v.([]interface{})
	if len(arr) != 2 || arr[len(arr)-1] != "y" {
		t.Errorf("expected last element popped, got %v", arr)
	}
}

func TestApplyCurrentDate(t *testing.T) {
	d := newDoc(nil)
	if err := Apply(d, map[string]interface{}{"$currentDate": map[string]interface{}{"updatedAt": true}}, Options{}); err != nil {
		t.Fatal(err)
	}
	if !d.Has("updatedAt") {
		t.Error("expected updatedAt to be set")
	}
}

func TestApplyArrayFilters(t *testing.T) {
	d := newDoc(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"sku": "a", "qty": int64(5)},
			map[string]interface{}{"sku": "b", "qty": int64(15)},
		},
	})

	mod := map[string]interface{}{
		"$set": map[string]interface{}{"items.$[elem].qty": int64(0)},
	}
	opts := Options{
		ArrayFilters: []ArrayFilter{
			{"elem.qty": map[string]interface{}{"$gt": int64(10)}},
		},
	}
	if err := Apply(d, mod, opts); err != nil {
		t.Fatal(err)
	}

	v, _ := d.Get("items")
	arr := v.([]interface{})
	first := arr[0].(*document.Document)
	second := arr[1].(*document.Document)
	fq, _ := first.Get("qty")
	sq, _ := second.Get("qty")
	if fq.(int64) != 5 {
		t.Errorf("expected untouched element qty=5, got %v", fq)
	}
	if sq.(int64) != 0 {
		t.Errorf("expected matched element qty reset to 0, got %v", sq)
	}
}

func TestApplyRejectsNonOperatorKey(t *testing.T) {
	d := newDoc(nil)
	err := Apply(d, map[string]interface{}{
		"$set": map[string]interface{}{"a": int64(1)},
		"name": "x",
	}, Options{})
	if err == nil {
		t.Error("expected error for non-operator top-level key alongside operators")
	}
}
