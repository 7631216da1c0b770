package mapstate

import (
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

// RecordStore はライブフィードから受け取ったレポートの表示用スナップショットを保持する。
// 更新は常に全件の置き換えで、差分マージは行わない。
type RecordStore struct {
	mu      sync.RWMutex
	reports []model.Report
	index   map[string]int
}

// NewRecordStore は空のRecordStoreを生成する。
func NewRecordStore() *RecordStore {
	return &RecordStore{index: map[string]int{}}
}

// ReplaceAll は表示中の全レポートをreportsで置き換える。
// 入力はコピーしてから作成日時の降順（同時刻はID昇順）に並べ替える。
// 同じIDが複数含まれる場合は後のものを採用する。
func (s *RecordStore) ReplaceAll(reports []model.Report) {
	byID := make(map[string]int, len(reports))
	next := make([]model.Report, 0, len(reports))
	for _, r := range reports {
		if i, ok := byID[r.ID]; ok {
			next[i] = r.Clone()
			continue
		}
		byID[r.ID] = len(next)
		next = append(next, r.Clone())
	}
	slices.SortStableFunc(next, compareFeedOrder)

	index := make(map[string]int, len(next))
	for i, r := range next {
		index[r.ID] = i
	}

	s.mu.Lock()
	s.reports = next
	s.index = index
	s.mu.Unlock()
}

// All は現在のスナップショットを表示順で返す。
// 各レポートはポインタフィールドまで複製済みで、呼び出し側で変更してよい。
func (s *RecordStore) All() []model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Report, len(s.reports))
	for i, r := range s.reports {
		out[i] = r.Clone()
	}
	return out
}

// Get はIDに一致するレポートの複製を返す。
func (s *RecordStore) Get(id string) (model.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.Report{}, false
	}
	return s.reports[i].Clone(), true
}

// Len は現在のレポート件数を返す。
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func compareFeedOrder(a, b model.Report) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
