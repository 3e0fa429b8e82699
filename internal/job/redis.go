package job

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

const maxUpdateAttempts = 5

var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	if _, err := client.Ping().Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "unable to reach redis")
	}

	return &RedisStore{client: client, prefix: "ladder"}, nil
}

func (r *RedisStore) jobKey(id string) string {
	return r.prefix + ":job:" + id
}

func (r *RedisStore) outputsKey(id string) string {
	return r.prefix + ":job:" + id + ":outputs"
}

func (r *RedisStore) userKey(userID string) string {
	return r.prefix + ":user:" + userID + ":jobs"
}

func (r *RedisStore) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)

	if err != nil {
		return errors.Wrap(err, "unable to encode job")
	}

	client := r.client.WithContext(ctx)

	created, err := client.SetNX(r.jobKey(job.ID), data, 0).Result()

	if err != nil {
		return errors.Wrap(err, "unable to store job")
	}

	if !created {
		return errors.Errorf("job %s already exists", job.ID)
	}

	member := &redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID}

	if err = client.ZAdd(r.userKey(job.UserID), member).Err(); err != nil {
		return errors.Wrap(err, "unable to index job")
	}

	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	return r.get(r.client.WithContext(ctx), id)
}

type getter interface {
	Get(key string) *redis.StringCmd
}

func (r *RedisStore) get(client getter, id string) (*Job, error) {
	data, err := client.Get(r.jobKey(id)).Bytes()

	if err == redis.Nil {
		return nil, errors.Wrap(ErrNotFound, id)
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to read job")
	}

	var job Job

	if err = json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "unable to decode job")
	}

	return &job, nil
}

func (r *RedisStore) List(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error) {
	client := r.client.WithContext(ctx)

	total, err := client.ZCard(r.userKey(userID)).Result()

	if err != nil {
		return nil, 0, errors.Wrap(err, "unable to count jobs")
	}

	if limit <= 0 || offset >= int(total) {
		return []*Job{}, int(total), nil
	}

	ids, err := client.ZRevRange(r.userKey(userID), int64(offset), int64(offset+limit-1)).Result()

	if err != nil {
		return nil, 0, errors.Wrap(err, "unable to list jobs")
	}

	jobs := make([]*Job, 0, len(ids))

	for _, id := range ids {
		job, err := r.get(client, id)

		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, 0, err
		}

		jobs = append(jobs, job)
	}

	return jobs, int(total), nil
}

// Update applies fn to the stored job inside an optimistic transaction, retrying when the
// record changed concurrently.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(job *Job) error) (*Job, error) {
	client := r.client.WithContext(ctx)
	key := r.jobKey(id)

	var updated *Job

	txf := func(tx *redis.Tx) error {
		job, err := r.get(tx, id)

		if err != nil {
			return err
		}

		if err = fn(job); err != nil {
			return err
		}

		data, err := json.Marshal(job)

		if err != nil {
			return errors.Wrap(err, "unable to encode job")
		}

		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, data, 0)
			return nil
		})

		updated = job

		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := client.Watch(txf, key)

		if err == redis.TxFailedErr {
			continue
		}

		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, errors.Errorf("job %s: too many concurrent updates", id)
}

func (r *RedisStore) AddOutput(ctx context.Context, output Output) error {
	data, err := json.Marshal(output)

	if err != nil {
		return errors.Wrap(err, "unable to encode output")
	}

	return errors.Wrap(r.client.WithContext(ctx).RPush(r.outputsKey(output.JobID), data).Err(), "unable to store output")
}

func (r *RedisStore) Outputs(ctx context.Context, jobID string) ([]Output, error) {
	items, err := r.client.WithContext(ctx).LRange(r.outputsKey(jobID), 0, -1).Result()

	if err != nil {
		return nil, errors.Wrap(err, "unable to read outputs")
	}

	outputs := make([]Output, 0, len(items))

	for _, item := range items {
		var output Output

		if err = json.Unmarshal([]byte(item), &output); err != nil {
			return nil, errors.Wrap(err, "unable to decode output")
		}

		outputs = append(outputs, output)
	}

	return outputs, nil
}

func (r *RedisStore) DeleteOutputs(ctx context.Context, jobID string) error {
	return errors.Wrap(r.client.WithContext(ctx).Del(r.outputsKey(jobID)).Err(), "unable to delete outputs")
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	client := r.client.WithContext(ctx)

	job, err := r.get(client, id)

	if err != nil {
		return err
	}

	_, err = client.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(r.jobKey(id), r.outputsKey(id))
		pipe.ZRem(r.userKey(job.UserID), id)
		return nil
	})

	return errors.Wrap(err, "unable to delete job")
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
