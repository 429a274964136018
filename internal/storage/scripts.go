package storage

import "github.com/redis/go-redis/v9"

// KEYS[1] item hash, KEYS[2] partition index (optional)
// ARGV[1] guard mode ("", "absent", "equals"), ARGV[2] guard field,
// ARGV[3] guard value, ARGV[4] expire-at epoch seconds (0 = none),
// ARGV[5] sort key, ARGV[6..] field/value pairs
var putItemScript = redis.NewScript(`
local mode = ARGV[1]
if mode == 'absent' then
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
elseif mode == 'equals' then
	if redis.call('HGET', KEYS[1], ARGV[2]) ~= ARGV[3] then
		return 0
	end
end

redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 6))

local expireAt = tonumber(ARGV[4])
if expireAt and expireAt > 0 then
	redis.call('EXPIREAT', KEYS[1], expireAt)
end

if #KEYS > 1 then
	redis.call('ZADD', KEYS[2], 0, ARGV[5])
end

return 1
`)

// KEYS[1] item hash, KEYS[2] partition index (optional)
// ARGV[1] guard field ("" = unconditional), ARGV[2] exclusive lower bound,
// ARGV[3] sort key, ARGV[4..] field/delta pairs
//
// Reply is {1, new values...} on success and {0} when the guard fails.
var updateItemScript = redis.NewScript(`
if ARGV[1] ~= '' then
	local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]))
	if current == nil or current <= tonumber(ARGV[2]) then
		return {0}
	end
end

local out = {1}
for i = 4, #ARGV, 2 do
	out[#out + 1] = redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end

if #KEYS > 1 then
	redis.call('ZADD', KEYS[2], 0, ARGV[3])
end

return out
`)
