package db

import (
	"context"
)

const deleteTableMetadata = `-- name: DeleteTableMetadata :exec
delete from table_metadata where dataset_url = ?
`

func (q *Queries) DeleteTableMetadata(ctx context.Context, datasetUrl string) error {
	_, err := q.db.ExecContext(ctx, deleteTableMetadata, datasetUrl)
	return err
}

const getTableMetadata = `-- name: GetTableMetadata :one
select version, metadata, fetched_at from table_metadata
where dataset_url = ?
`

type GetTableMetadataRow struct {
	Version   string
	Metadata  string
	FetchedAt int64
}

func (q *Queries) GetTableMetadata(ctx context.Context, datasetUrl string) (GetTableMetadataRow, error) {
	row := q.db.QueryRowContext(ctx, getTableMetadata, datasetUrl)
	var i GetTableMetadataRow
	err := row.Scan(&i.Version, &i.Metadata, &i.FetchedAt)
	return i, err
}

const putTableMetadata = `-- name: PutTableMetadata :exec
insert into table_metadata(dataset_url, version, metadata, fetched_at)
values (?, ?, ?, ?)
on conflict(dataset_url) do update set
    version = excluded.version,
    metadata = excluded.metadata,
    fetched_at = excluded.fetched_at
`

type PutTableMetadataParams struct {
	DatasetUrl string
	Version    string
	Metadata   string
	FetchedAt  int64
}

func (q *Queries) PutTableMetadata(ctx context.Context, arg PutTableMetadataParams) error {
	_, err := q.db.ExecContext(ctx, putTableMetadata,
		arg.DatasetUrl,
		arg.Version,
		arg.Metadata,
		arg.FetchedAt,
	)
	return err
}

const countTableMetadata = `-- name: CountTableMetadata :one
select count(*) from table_metadata
`

func (q *Queries) CountTableMetadata(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countTableMetadata)
	var count int64
	err := row.Scan(&count)
	return count, err
}
