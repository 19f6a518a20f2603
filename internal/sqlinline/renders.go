package sqlinline

const QSearchRenders = `--sql 614322a6-8464-4bd0-9dbf-a26b3ff928ea
select id, style_phrase, model_key, image_key, thumb_key, created_at,
       count(*) over() as total
from renders
where status = 'succeeded'
  and ($1 = '' or style_phrase ilike '%' || $1 || '%')
order by created_at desc
offset $2 limit $3;
`

const QListStyles = `--sql b68edbc1-f10f-4651-babf-244828d1a924
select distinct style_phrase
from renders
where status = 'succeeded'
order by style_phrase;
`

const QListDefaultRenders = `--sql 224fe085-d107-4b01-ab82-5c42e51e600b
select id, style_phrase, model_key, image_key, thumb_key, created_at
from renders
where status = 'succeeded'
order by created_at desc
limit $1;
`

const QListSucceededArtifacts = `--sql 3f25be3d-d07f-4bd6-a7bb-0ddff1f89a1a
select id, image_key, thumb_key
from renders
where status = 'succeeded'
order by created_at desc;
`
