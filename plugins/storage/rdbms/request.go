// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/types"
)

// StoreRequestDetail stores a request detail snapshot, replacing any
// previous snapshot of the same request. The detail document is stored as
// JSON; state and cancel reason are denormalized for querying.
func (r *RDBMS) StoreRequestDetail(rd *request.RequestDetail) error {
	if err := r.init(); err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}
	detailJSON, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("could not serialize request detail %s: %w", rd.ID, err)
	}
	insertStatement := "replace into request_details (request_id, state, cancel_reason, detail, update_time) values (?, ?, ?, ?, ?)"
	updateTime := rd.UpdateTime
	if updateTime.IsZero() {
		updateTime = rd.CreateTime
	}
	if _, err := r.db.Exec(insertStatement, rd.ID, rd.State, rd.CancelReason, detailJSON, updateTime); err != nil {
		return fmt.Errorf("could not store request detail %s: %w", rd.ID, err)
	}
	return nil
}

// GetRequestDetail returns the last stored snapshot of the request.
func (r *RDBMS) GetRequestDetail(id types.RequestID) (*request.RequestDetail, error) {
	if err := r.init(); err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	var detailJSON []byte
	row := r.db.QueryRow("select detail from request_details where request_id=?", id)
	if err := row.Scan(&detailJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("could not find request detail for request id %v", id)
		}
		return nil, fmt.Errorf("could not get request detail %s: %w", id, err)
	}
	var rd request.RequestDetail
	if err := json.Unmarshal(detailJSON, &rd); err != nil {
		return nil, fmt.Errorf("could not deserialize request detail %s: %w", id, err)
	}
	return &rd, nil
}
