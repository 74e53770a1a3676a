package repository

import (
	"context"

	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/utils"
)

type CJPagedList struct {
	Rows       []utils.JSON `json:"rows"`
	TotalRows  int64        `json:"total_rows"`
	PageIndex  int64        `json:"page_index"`
	PageSize   int64        `json:"page_size"`
	TotalPages int64        `json:"total_pages"`
	HasNext    bool         `json:"has_next_page"`
	HasPrev    bool         `json:"has_prev_page"`
}

// SelectPaged runs a counted page query. pageIndex starts at 1; a page
// size of 0 or less returns everything as a single page.
func (r *CJRepository) SelectPaged(ctx context.Context, fieldNames []string, where utils.JSON, orderBy string, pageIndex, pageSize int64) (*CJPagedList, error) {
	if pageIndex < 1 {
		return nil, errors.Errorf("Invalid page index %d", pageIndex)
	}
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return nil, err
	}
	totalRows, err := d.Count(ctx, r.TableName, where, conditions)
	if err != nil {
		return nil, err
	}
	list := &CJPagedList{
		TotalRows: totalRows,
		PageIndex: pageIndex,
		PageSize:  pageSize,
	}
	if pageSize <= 0 {
		list.TotalPages = 1
		list.HasPrev = pageIndex > 1
		list.Rows, err = d.Select(ctx, r.TableName, fieldNames, where, conditions, orderBy, 0, 0)
		return list, err
	}
	list.TotalPages = (totalRows + pageSize - 1) / pageSize
	list.HasNext = pageIndex < list.TotalPages
	list.HasPrev = pageIndex > 1
	if totalRows == 0 {
		list.Rows = []utils.JSON{}
		return list, nil
	}
	offset := (pageIndex - 1) * pageSize
	list.Rows, err = d.Select(ctx, r.TableName, fieldNames, where, conditions, orderBy, pageSize, offset)
	if err != nil {
		return nil, err
	}
	return list, nil
}
