package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

const (
	RecordPath = "/record/"
	RunPath    = "/runs/"
)

func recordSavePath(runID string) string {
	return RecordPath + runID
}

// archivedRun is the stored form of a RunResult, errors become strings.
type archivedRun struct {
	RunID      string
	DAG        string
	Payload    any
	Status     types.StatusType
	FirstFatal string
	StartTime  time.Time
	EndTime    time.Time
	Nodes      map[string]*types.NodeTraceRecord
}

func (fe *flowExecute) archiving() bool {
	return fe.opts.ArchiveRuns && fe.store != nil
}

func (fe *flowExecute) archiveRecord(ctx context.Context, record *types.NodeTraceRecord) {
	if !fe.archiving() {
		return
	}
	b, err := utils.Serialize(record)
	if err != nil {
		log.Errorf("%s serialize record of %s failed: %v", record.RunID, record.Node, err)
		return
	}
	if err := fe.store.Set(ctx, recordSavePath(record.RunID), record.Node, b); err != nil {
		log.Errorf("%s failed to save record of %s: %v", record.RunID, record.Node, err)
	}
}

func (fe *flowExecute) archiveRun(ctx context.Context, result *types.RunResult) {
	if !fe.archiving() {
		return
	}
	run := &archivedRun{
		RunID:      result.RunID,
		DAG:        result.DAG,
		Payload:    result.Payload,
		Status:     result.Status,
		FirstFatal: result.FirstFatal,
		StartTime:  result.StartTime,
		EndTime:    result.EndTime,
		Nodes:      make(map[string]*types.NodeTraceRecord, len(result.Nodes)),
	}
	for name, nr := range result.Nodes {
		record := &types.NodeTraceRecord{
			RunID:     result.RunID,
			DAG:       result.DAG,
			Node:      name,
			Status:    nr.Status,
			Attempts:  nr.Attempts,
			StartTime: nr.StartTime,
			EndTime:   nr.EndTime,
			Output:    nr.Output,
		}
		if nr.Error != nil {
			record.Error = nr.Error.Error()
		}
		run.Nodes[name] = record
	}
	b, err := utils.Serialize(run)
	if err != nil {
		log.Errorf("%s serialize run failed: %v", result.RunID, err)
		return
	}
	if err := fe.store.Set(ctx, RunPath, result.RunID, b); err != nil {
		log.Errorf("%s failed to save run: %v", result.RunID, err)
	}
}

func (fe *flowExecute) loadRecords(ctx context.Context, runID string) (map[string]*types.NodeTraceRecord, error) {
	records := make(map[string]*types.NodeTraceRecord)
	recordPath := recordSavePath(runID)
	err := fe.store.List(ctx, recordPath, func(node string) bool {
		b, err := fe.store.Get(ctx, recordPath, node)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, node, err)
			return true
		}
		if b == nil {
			return true
		}
		record := &types.NodeTraceRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, node, string(b), err)
			return true
		}
		records[node] = record
		return true
	})
	return records, errors.Trace(err)
}

// loadRunResult rebuilds a retired run from the archive. A run whose final
// entry is missing, e.g. after a crash, is rebuilt from its node records.
func (fe *flowExecute) loadRunResult(ctx context.Context, runID string) (*types.RunResult, error) {
	if !fe.archiving() {
		return nil, errors.NotFoundf("run id: %s", runID)
	}
	b, err := fe.store.Get(ctx, RunPath, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	run := &archivedRun{RunID: runID, Status: types.Running}
	if b != nil {
		if err := utils.Unserialize(b, run); err != nil {
			return nil, errors.Annotatef(err, "run %s", runID)
		}
	} else {
		run.Nodes, err = fe.loadRecords(ctx, runID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(run.Nodes) == 0 {
			return nil, errors.NotFoundf("run id: %s", runID)
		}
		for _, record := range run.Nodes {
			run.DAG = record.DAG
			break
		}
	}

	result := &types.RunResult{
		RunID:      run.RunID,
		DAG:        run.DAG,
		Payload:    run.Payload,
		Status:     run.Status,
		FirstFatal: run.FirstFatal,
		Nodes:      make(map[string]*types.NodeResult, len(run.Nodes)),
		StartTime:  run.StartTime,
		EndTime:    run.EndTime,
	}
	for name, record := range run.Nodes {
		nr := &types.NodeResult{
			Node:      name,
			Status:    record.Status,
			Output:    record.Output,
			Attempts:  record.Attempts,
			StartTime: record.StartTime,
			EndTime:   record.EndTime,
		}
		if record.Error != "" {
			nr.Error = errors.New(record.Error)
		}
		result.Nodes[name] = nr
	}
	return result, nil
}
