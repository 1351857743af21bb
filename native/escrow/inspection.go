package escrow

import "strconv"

var inspectionPrefix = []byte("escrow/inspection/")

type inspectionRecord struct {
	Passed bool
}

func inspectionKey(assetID uint64) []byte {
	return append(append([]byte(nil), inspectionPrefix...), []byte(strconv.FormatUint(assetID, 10))...)
}

func (e *Engine) loadInspection(assetID uint64) (bool, error) {
	var record inspectionRecord
	if _, err := e.state.KVGet(inspectionKey(assetID), &record); err != nil {
		return false, err
	}
	return record.Passed, nil
}

func (e *Engine) storeInspection(assetID uint64, passed bool) error {
	if !passed {
		return e.state.KVDelete(inspectionKey(assetID))
	}
	return e.state.KVPut(inspectionKey(assetID), inspectionRecord{Passed: true})
}
