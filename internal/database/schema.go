package database

import (
	"database/sql"
	"scoring-backend/internal/core/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RequestPending    string = string(types.StatusPending)
	RequestProcessing string = string(types.StatusProcessing)
	RequestDone       string = string(types.StatusDone)
	RequestError      string = string(types.StatusError)
)

type Request struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null;index:idx_requests_status_updated,priority:1"`

	Input datatypes.JSONType[types.TaskSpec] `gorm:"not null"`

	Score        sql.NullFloat64
	ErrorMessage sql.NullString
	WorkerId     sql.NullString `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index:idx_requests_status_updated,priority:2"`
}

func NewRequest(req types.Request) Request {
	row := Request{
		Id:        req.Id,
		Status:    string(req.Status),
		Input:     datatypes.NewJSONType(req.Input),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if req.WorkerId != "" {
		row.WorkerId = sql.NullString{String: req.WorkerId, Valid: true}
	}
	if req.Output != nil {
		if req.Output.Score != nil {
			row.Score = sql.NullFloat64{Float64: *req.Output.Score, Valid: true}
		}
		if req.Output.Error != "" {
			row.ErrorMessage = sql.NullString{String: req.Output.Error, Valid: true}
		}
	}
	return row
}

func (r Request) ToRequest() types.Request {
	req := types.Request{
		Id:        r.Id,
		Status:    types.Status(r.Status),
		Input:     r.Input.Data(),
		WorkerId:  r.WorkerId.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Score.Valid {
		req.Output = types.ScoreOutput(r.Score.Float64)
	} else if r.ErrorMessage.Valid {
		req.Output = types.ErrorOutput(r.ErrorMessage.String)
	}
	return req
}
