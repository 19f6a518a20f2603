package sqlinline

const QSelectIntegrationToken = `--sql 25637759-b2c8-4dee-80b2-935c7b969496
select token
from integration_tokens
where provider = $1;
`

const QUpsertIntegrationToken = `--sql dda73aca-7891-4f19-9bde-c22cbf349b0e
insert into integration_tokens (provider, token, properties, updated_at)
values ($1, $2, $3::jsonb, now())
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
