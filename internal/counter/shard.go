package counter

import (
	"context"
	"hash/fnv"
)

// ShardFor 根据路由键选择分片；同一 key 总是落在同一分片
func ShardFor(key string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}

// shardSums 汇总某帖子各字段未折叠的分片值
func (r *Reconciler) shardSums(ctx context.Context, postID string) (map[string]int64, error) {
	var rows []struct {
		Field string
		Total int64
	}
	err := r.db.WithContext(ctx).Table("counter_shards").
		Select("field, CAST(COALESCE(SUM(value), 0) AS BIGINT) AS total").
		Where("post_id = ?", postID).
		Group("field").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Field] = row.Total
	}
	return out, nil
}
