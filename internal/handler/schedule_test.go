package handler

import (
    "errors"
    "net/http"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/facility-membership/internal/model"
)

func lane(n uint32) *uint32 { return &n }

func seedSlots(h *harness) {
    h.slots.slots = []model.Slot{
        {ID: 1, ClassID: 1, InstructorID: 7, LaneID: lane(3), Weekday: 1, Start: "09:00", End: "10:00", IsActive: true},
        {ID: 2, ClassID: 2, InstructorID: 8, Weekday: 2, Start: "18:00", End: "19:00", IsActive: true},
        {ID: 3, ClassID: 3, InstructorID: 9, LaneID: lane(4), Weekday: 1, Start: "09:00", End: "10:00", IsActive: false},
    }
}

func TestScheduleCreate(t *testing.T) {
    h := newHarness(t)
    seedSlots(h)
    cookies := h.asUser(t, 2)

    rec := h.do(h.request(http.MethodPost, "/v1/schedules",
        `{"class_id":4,"instructor_id":7,"lane":5,"weekday":1,"start_time":"10:00","end_time":"11:00"}`, cookies))

    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    body := decode(t, rec.Body.Bytes())
    assert.EqualValues(t, 4, body["id"])
    assert.EqualValues(t, 5, body["lane"])
    assert.Equal(t, 1, h.purged)
    require.Len(t, h.sink.entries, 1)
    assert.Equal(t, model.AuditCreate, h.sink.entries[0].Action)
    assert.Equal(t, model.ResourceSchedule, h.sink.entries[0].Resource)
    assert.Equal(t, uint64(2), h.sink.entries[0].ActorID)
}

func TestScheduleCreate_Conflicts(t *testing.T) {
    cases := []struct {
        name   string
        body   string
        code   int
        field  string
        reason string
    }{
        {"instructor overlap", `{"class_id":4,"instructor_id":7,"weekday":1,"start_time":"09:30","end_time":"10:30"}`, http.StatusConflict, "instructor_id", "instructor"},
        {"lane overlap", `{"class_id":4,"instructor_id":11,"lane":3,"weekday":1,"start_time":"08:30","end_time":"09:15"}`, http.StatusConflict, "lane", "lane"},
        {"inactive slot ignored", `{"class_id":4,"instructor_id":9,"lane":4,"weekday":1,"start_time":"09:00","end_time":"10:00"}`, http.StatusCreated, "", ""},
        {"touching slots", `{"class_id":4,"instructor_id":7,"lane":3,"weekday":1,"start_time":"08:00","end_time":"09:00"}`, http.StatusCreated, "", ""},
        {"other day", `{"class_id":4,"instructor_id":7,"lane":3,"weekday":3,"start_time":"09:00","end_time":"10:00"}`, http.StatusCreated, "", ""},
        {"no lane ignores lanes", `{"class_id":4,"instructor_id":12,"weekday":1,"start_time":"09:00","end_time":"10:00"}`, http.StatusCreated, "", ""},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            h := newHarness(t)
            seedSlots(h)

            rec := h.do(h.request(http.MethodPost, "/v1/schedules", tc.body, h.asUser(t, 1)))

            require.Equal(t, tc.code, rec.Code, rec.Body.String())
            if tc.code != http.StatusConflict {
                return
            }
            body := decode(t, rec.Body.Bytes())
            assert.Equal(t, tc.reason, body["reason"])
            fields := body["fields"].(map[string]any)
            assert.Contains(t, fields, tc.field)
            assert.EqualValues(t, 1, body["conflicting_slot"].(map[string]any)["id"])
            assert.Len(t, h.slots.slots, 3)
            assert.Zero(t, h.purged)
            assert.Empty(t, h.sink.entries)
        })
    }
}

func TestScheduleCreate_Validation(t *testing.T) {
    h := newHarness(t)

    rec := h.do(h.request(http.MethodPost, "/v1/schedules",
        `{"class_id":1,"instructor_id":7,"start_time":"9:00","end_time":"24:00"}`, h.asUser(t, 1)))

    require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
    fields := decode(t, rec.Body.Bytes())["fields"].(map[string]any)
    assert.Contains(t, fields, "weekday")
    assert.Contains(t, fields, "start_time")
    assert.Contains(t, fields, "end_time")

    rec = h.do(h.request(http.MethodPost, "/v1/schedules",
        `{"class_id":1,"instructor_id":7,"weekday":0,"start_time":"10:00","end_time":"10:00"}`, h.asUser(t, 1)))
    require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
    assert.Equal(t, "end time must be after start time",
        decode(t, rec.Body.Bytes())["fields"].(map[string]any)["end_time"])
    assert.Empty(t, h.slots.slots)
}

func TestScheduleList(t *testing.T) {
    h := newHarness(t)
    seedSlots(h)
    cookies := h.asUser(t, 2)

    rec := h.do(h.request(http.MethodGet, "/v1/schedules", "", cookies))
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Len(t, decode(t, rec.Body.Bytes())["items"], 2)

    rec = h.do(h.request(http.MethodGet, "/v1/schedules?weekday=2", "", cookies))
    require.Equal(t, http.StatusOK, rec.Code)
    items := decode(t, rec.Body.Bytes())["items"].([]any)
    require.Len(t, items, 1)
    assert.EqualValues(t, 2, items[0].(map[string]any)["id"])

    rec = h.do(h.request(http.MethodGet, "/v1/schedules?weekday=7", "", cookies))
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = h.do(h.request(http.MethodGet, "/v1/schedules", "", nil))
    assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestScheduleDelete(t *testing.T) {
    h := newHarness(t)
    seedSlots(h)

    rec := h.do(h.request(http.MethodDelete, "/v1/schedules/1", "", h.asUser(t, 2)))
    assert.Equal(t, http.StatusSeeOther, rec.Code)
    assert.Equal(t, "/", rec.Header().Get("Location"))

    admin := h.asUser(t, 1)
    rec = h.do(h.request(http.MethodDelete, "/v1/schedules/1", "", admin))
    require.Equal(t, http.StatusNoContent, rec.Code)
    assert.False(t, h.slots.slots[0].IsActive)
    assert.Equal(t, 1, h.purged)
    require.Len(t, h.sink.entries, 1)
    assert.Equal(t, model.AuditDelete, h.sink.entries[0].Action)
    assert.Equal(t, "09:00", h.sink.entries[0].Details["start_time"])

    for _, id := range []string{"1", "3", "999"} {
        rec = h.do(h.request(http.MethodDelete, "/v1/schedules/"+id, "", admin))
        assert.Equal(t, http.StatusNotFound, rec.Code, id)
    }
    assert.Equal(t, 1, h.purged)

    rec = h.do(h.request(http.MethodDelete, "/v1/schedules/abc", "", admin))
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    // the freed time can be booked again
    rec = h.do(h.request(http.MethodPost, "/v1/schedules",
        `{"class_id":5,"instructor_id":7,"lane":3,"weekday":1,"start_time":"09:00","end_time":"10:00"}`, admin))
    assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestScheduleDelete_StoreError(t *testing.T) {
    h := newHarness(t)
    seedSlots(h)
    h.slots.err = errors.New("connection reset")

    rec := h.do(h.request(http.MethodDelete, "/v1/schedules/2", "", h.asUser(t, 1)))

    assert.Equal(t, http.StatusInternalServerError, rec.Code)
    assert.True(t, h.slots.slots[1].IsActive)
    assert.Zero(t, h.purged)
}
